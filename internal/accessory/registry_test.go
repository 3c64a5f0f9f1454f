package accessory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type pickerFunc func(ctx context.Context) (Identity, error)

func (f pickerFunc) Pick(ctx context.Context) (Identity, error) { return f(ctx) }

type RegistryTestSuite struct {
	suite.Suite
	logger *logrus.Logger
}

func (suite *RegistryTestSuite) SetupTest() {
	suite.logger = logrus.New()
	suite.logger.SetLevel(logrus.PanicLevel)
}

func (suite *RegistryTestSuite) await(ch <-chan PickResult) PickResult {
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		suite.FailNow("picker result MUST be delivered")
		return PickResult{}
	}
}

func (suite *RegistryTestSuite) TestRestoresPersistedIdentity() {
	// GOAL: Verify a previously stored identity is current after construction
	//
	// TEST SCENARIO: Store holds identity → NewRegistry → CurrentIdentity returns it
	store := &MemoryStore{}
	suite.Require().NoError(store.Save(Identity{ID: "peer-1", Name: "Scanner"}))

	reg, err := NewRegistry(store, nil, suite.logger)
	suite.Require().NoError(err)

	id, ok := reg.CurrentIdentity()
	suite.True(ok)
	suite.Equal("peer-1", id.ID)
}

func (suite *RegistryTestSuite) TestPresentPicker_Selection() {
	// GOAL: Verify a selected accessory becomes current and is persisted
	//
	// TEST SCENARIO: Picker returns identity → result delivered → store and registry updated
	store := &MemoryStore{}
	picked := Identity{ID: "peer-2", Name: "Scanner"}
	reg, err := NewRegistry(store, pickerFunc(func(context.Context) (Identity, error) {
		return picked, nil
	}), suite.logger)
	suite.Require().NoError(err)

	res := suite.await(reg.PresentPicker(context.Background()))
	suite.NoError(res.Err)
	suite.False(res.Cancelled())
	suite.Equal(picked, res.Identity)

	id, ok := reg.CurrentIdentity()
	suite.True(ok)
	suite.Equal(picked, id)

	stored, ok, _ := store.Load()
	suite.True(ok, "selection MUST be persisted")
	suite.Equal(picked, stored)
}

func (suite *RegistryTestSuite) TestPresentPicker_CancelKeepsIdentity() {
	// GOAL: Verify dismissing the picker leaves the previous identity untouched
	//
	// TEST SCENARIO: Registry has identity → picker cancelled → identity unchanged
	store := &MemoryStore{}
	suite.Require().NoError(store.Save(Identity{ID: "peer-1"}))
	reg, err := NewRegistry(store, pickerFunc(func(context.Context) (Identity, error) {
		return Identity{}, ErrPickerCancelled
	}), suite.logger)
	suite.Require().NoError(err)

	res := suite.await(reg.PresentPicker(context.Background()))
	suite.True(res.Cancelled())
	suite.ErrorIs(res.Err, ErrPickerCancelled)

	id, ok := reg.CurrentIdentity()
	suite.True(ok)
	suite.Equal("peer-1", id.ID)
}

func (suite *RegistryTestSuite) TestPresentPicker_Failure() {
	// GOAL: Verify picker failures are reported and not treated as a cancellation
	//
	// TEST SCENARIO: Picker returns error → result carries error → no identity
	boom := errors.New("scan failed")
	reg, err := NewRegistry(nil, pickerFunc(func(context.Context) (Identity, error) {
		return Identity{}, boom
	}), suite.logger)
	suite.Require().NoError(err)

	res := suite.await(reg.PresentPicker(context.Background()))
	suite.ErrorIs(res.Err, boom)
	suite.False(res.Cancelled())

	_, ok := reg.CurrentIdentity()
	suite.False(ok)
}

func (suite *RegistryTestSuite) TestPresentPicker_NoPicker() {
	reg, err := NewRegistry(nil, nil, suite.logger)
	suite.Require().NoError(err)

	res := suite.await(reg.PresentPicker(context.Background()))
	suite.Error(res.Err)
}

func (suite *RegistryTestSuite) TestRemove() {
	// GOAL: Verify Remove notifies listeners before the identity is cleared
	//
	// TEST SCENARIO: Registry has identity → listener registered → Remove → listener saw identity still current → store cleared
	store := &MemoryStore{}
	suite.Require().NoError(store.Save(Identity{ID: "peer-1"}))
	reg, err := NewRegistry(store, nil, suite.logger)
	suite.Require().NoError(err)

	var notified []Identity
	var currentDuringCallback bool
	reg.OnRemove(func(id Identity) {
		notified = append(notified, id)
		_, currentDuringCallback = reg.CurrentIdentity()
	})

	suite.Require().NoError(reg.Remove(Identity{ID: "peer-1"}))
	suite.Len(notified, 1)
	suite.True(currentDuringCallback, "listener MUST run while identity is still current")

	_, ok := reg.CurrentIdentity()
	suite.False(ok)
	_, ok, _ = store.Load()
	suite.False(ok, "stored identity MUST be cleared")

	suite.NoError(reg.Remove(Identity{ID: "peer-1"}), "second Remove MUST be a no-op")
	suite.Len(notified, 1)
}

func (suite *RegistryTestSuite) TestRemove_OtherIdentityIsNoop() {
	store := &MemoryStore{}
	suite.Require().NoError(store.Save(Identity{ID: "peer-1"}))
	reg, err := NewRegistry(store, nil, suite.logger)
	suite.Require().NoError(err)

	suite.NoError(reg.Remove(Identity{ID: "peer-9"}))
	_, ok := reg.CurrentIdentity()
	suite.True(ok)
}

func (suite *RegistryTestSuite) TestSet_RejectsEmpty() {
	reg, err := NewRegistry(nil, nil, suite.logger)
	suite.Require().NoError(err)
	suite.Error(reg.Set(Identity{}))
}

func TestRegistryTestSuite(t *testing.T) {
	suite.Run(t, new(RegistryTestSuite))
}

type failingStore struct{ MemoryStore }

func (*failingStore) Load() (Identity, bool, error) { return Identity{}, false, errors.New("disk gone") }

func TestNewRegistry_StoreError(t *testing.T) {
	_, err := NewRegistry(&failingStore{}, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk gone")
}
