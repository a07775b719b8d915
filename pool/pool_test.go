package pool

import (
	"fmt"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/twitter/launcher/common/stats"
	"github.com/twitter/launcher/hosts"
)

func makeLocations(n int) []hosts.Location {
	locs := make([]hosts.Location, n)
	for i := range locs {
		locs[i] = hosts.Location{Host: fmt.Sprintf("c401-%03d", i/2), HostNum: i / 2, TaskLoc: i % 2, PhysCore: fmt.Sprintf("%d-%d", i%2, i%2)}
	}
	return locs
}

func makePool(t *testing.T, ctrl *gomock.Controller, n int) (*Pool, *MockExecutor) {
	ex := NewMockExecutor(ctrl)
	ex.EXPECT().SetupOnResource(gomock.Any()).Return(nil).Times(n)
	p, err := NewPool(makeLocations(n), ex, nil)
	require.NoError(t, err)
	return p, ex
}

func Test_Pool_New(t *testing.T) {
	mockCtrl := gomock.NewController(t)
	defer mockCtrl.Finish()

	t.Run("no locations", func(t *testing.T) {
		_, err := NewPool(nil, NewMockExecutor(mockCtrl), nil)
		assert.Error(t, err)
	})

	t.Run("no executor", func(t *testing.T) {
		_, err := NewPool(makeLocations(2), nil, nil)
		assert.Error(t, err)
	})

	t.Run("setup failure", func(t *testing.T) {
		ex := NewMockExecutor(mockCtrl)
		gomock.InOrder(
			ex.EXPECT().SetupOnResource(gomock.Any()).Return(nil),
			ex.EXPECT().SetupOnResource(gomock.Any()).Return(errors.New("no route to host")),
		)
		_, err := NewPool(makeLocations(3), ex, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "slot 1")
	})

	t.Run("slots in order", func(t *testing.T) {
		p, _ := makePool(t, mockCtrl, 4)
		assert.Equal(t, 4, p.Size())
		for i := 0; i < 4; i++ {
			assert.Equal(t, i, p.Slot(i).Index())
			assert.True(t, p.Slot(i).IsFree())
		}
		assert.Equal(t, "c401-001", p.Slot(3).Host())
	})
}

func Test_Pool_RequestSlots(t *testing.T) {
	mockCtrl := gomock.NewController(t)
	defer mockCtrl.Finish()

	t.Run("bad sizes", func(t *testing.T) {
		p, _ := makePool(t, mockCtrl, 4)
		_, ok := p.RequestSlots(0)
		assert.False(t, ok)
		_, ok = p.RequestSlots(-1)
		assert.False(t, ok)
		_, ok = p.RequestSlots(5)
		assert.False(t, ok)
	})

	t.Run("first fit", func(t *testing.T) {
		p, _ := makePool(t, mockCtrl, 4)
		loc, ok := p.RequestSlots(3)
		require.True(t, ok)
		assert.Equal(t, 0, loc.Offset())
		require.NoError(t, p.Occupy(loc, 0))

		loc, ok = p.RequestSlots(1)
		require.True(t, ok)
		assert.Equal(t, 3, loc.Offset())
		require.NoError(t, p.Occupy(loc, 1))

		_, ok = p.RequestSlots(2)
		assert.False(t, ok)
		assert.Equal(t, "0 0 0 1", p.Display())

		require.NoError(t, p.ReleaseByTask(0))
		loc, ok = p.RequestSlots(2)
		require.True(t, ok)
		assert.Equal(t, 0, loc.Offset())
		assert.Equal(t, 2, loc.Extent())
	})

	t.Run("restart past occupied slot", func(t *testing.T) {
		p, _ := makePool(t, mockCtrl, 6)
		p.Slot(1).occupy(7)
		p.Slot(3).occupy(8)
		loc, ok := p.RequestSlots(2)
		require.True(t, ok)
		assert.Equal(t, 4, loc.Offset())
		_, ok = p.RequestSlots(3)
		assert.False(t, ok)
	})
}

func Test_Pool_OccupyRelease(t *testing.T) {
	mockCtrl := gomock.NewController(t)
	defer mockCtrl.Finish()

	t.Run("occupied range faults without change", func(t *testing.T) {
		p, _ := makePool(t, mockCtrl, 4)
		loc, ok := p.RequestSlots(3)
		require.True(t, ok)
		p.Slot(2).occupy(9)

		err := p.Occupy(loc, 1)
		require.Error(t, err)
		assert.Equal(t, ErrSlotOccupied, errors.Cause(err))
		assert.Equal(t, "X X 9 X", p.Display())
	})

	t.Run("foreign locator", func(t *testing.T) {
		p1, _ := makePool(t, mockCtrl, 2)
		p2, _ := makePool(t, mockCtrl, 2)
		loc, _ := p1.RequestSlots(1)
		assert.Equal(t, ErrForeignLocator, p2.Occupy(loc, 1))
	})

	t.Run("release unknown task", func(t *testing.T) {
		p, _ := makePool(t, mockCtrl, 2)
		err := p.ReleaseByTask(3)
		require.Error(t, err)
		assert.Equal(t, ErrTaskNotFound, errors.Cause(err))
	})

	t.Run("release counts runs", func(t *testing.T) {
		p, _ := makePool(t, mockCtrl, 3)
		loc, _ := p.RequestSlots(2)
		require.NoError(t, p.Occupy(loc, 4))
		assert.Equal(t, 2, p.Occupancy())
		assert.Equal(t, 4, p.Slot(1).TaskID())
		require.NoError(t, p.ReleaseByTask(4))
		assert.Equal(t, 0, p.Occupancy())
		assert.Equal(t, 1, p.Slot(0).Runs())
		assert.Equal(t, 1, p.Unused())
		assert.Equal(t, NoTask, p.Slot(1).TaskID())
	})
}

func Test_Pool_Locator(t *testing.T) {
	mockCtrl := gomock.NewController(t)
	defer mockCtrl.Finish()

	p, _ := makePool(t, mockCtrl, 4)
	p.Slot(0).occupy(1)
	loc, ok := p.RequestSlots(3)
	require.True(t, ok)
	assert.Equal(t, "c401-000", loc.FirstHost())
	assert.Equal(t, "1-1", loc.FirstRange())
	assert.Equal(t, []string{"c401-000", "c401-001", "c401-001"}, loc.Hosts())
	assert.Equal(t, p, loc.Pool())
	assert.Panics(t, func() { loc.Slot(3) })
	assert.Contains(t, loc.String(), "size=3 offset=1")
}

func Test_Pool_Occupancy(t *testing.T) {
	mockCtrl := gomock.NewController(t)
	defer mockCtrl.Finish()

	reg := stats.NewFinagleStatsRegistry()
	stat := stats.NewCustomStatsReceiver(func() stats.StatsRegistry { return reg })
	ex := NewMockExecutor(mockCtrl)
	ex.EXPECT().SetupOnResource(gomock.Any()).Return(nil).Times(4)
	p, err := NewPool(makeLocations(4), ex, stat)
	require.NoError(t, err)

	assert.Equal(t, 0, p.MaxOccupancy())
	assert.Equal(t, 0.0, p.AverageOccupancy())

	p.RecordOccupancy()
	loc, _ := p.RequestSlots(4)
	require.NoError(t, p.Occupy(loc, 0))
	p.RecordOccupancy()
	require.NoError(t, p.ReleaseByTask(0))
	loc, _ = p.RequestSlots(2)
	require.NoError(t, p.Occupy(loc, 1))
	p.RecordOccupancy()

	assert.Equal(t, 4, p.MaxOccupancy())
	assert.Equal(t, 2.0, p.AverageOccupancy())
	assert.Contains(t, p.FinalReport(), "Host pool of size 4.")
	assert.Contains(t, p.FinalReport(), "max: 4")
	assert.Contains(t, p.FinalReport(), "unused cores: 0")

	stats.VerifyStats("occupancy", reg, t, map[string]stats.Rule{
		"pool/" + stats.PoolSizeGauge:      {Checker: stats.Int64EqTest, Value: 4},
		"pool/" + stats.PoolOccupancyGauge: {Checker: stats.Int64EqTest, Value: 2},
	})
}

func Test_Pool_Release(t *testing.T) {
	mockCtrl := gomock.NewController(t)
	defer mockCtrl.Finish()

	t.Run("release then terminate", func(t *testing.T) {
		p, ex := makePool(t, mockCtrl, 3)
		gomock.InOrder(
			ex.EXPECT().ReleaseFromResource(p.Slot(0)).Return(nil),
			ex.EXPECT().ReleaseFromResource(p.Slot(1)).Return(nil),
			ex.EXPECT().ReleaseFromResource(p.Slot(2)).Return(nil),
			ex.EXPECT().Terminate().Return(nil),
		)
		assert.NoError(t, p.Release())
	})

	t.Run("first error wins", func(t *testing.T) {
		p, ex := makePool(t, mockCtrl, 2)
		ex.EXPECT().ReleaseFromResource(p.Slot(0)).Return(errors.New("closed"))
		ex.EXPECT().ReleaseFromResource(p.Slot(1)).Return(nil)
		ex.EXPECT().Terminate().Return(errors.New("busy"))
		err := p.Release()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "releasing slot 0")
	})
}
