package ride

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2024, 3, 1, 8, 15, 0, 0, time.UTC)

func validRide() Ride {
	return Ride{
		OrderID:         "order-1",
		DriverID:        "driver-1",
		ClientID:        "client-1",
		Timestamp:       base,
		FromLatitude:    0,
		FromLongitude:   0,
		ToLatitude:      0,
		ToLongitude:     1,
		ArrivedDistance: 805,
		Duration:        900,
		ArrivedDuration: 120,
	}
}

func TestSegmentMeasures(t *testing.T) {
	r := validRide()

	assert.InEpsilon(t, 111_195.0+805.0, r.SegmentDistance(), 0.01)
	assert.Equal(t, 1020.0, r.SegmentDuration())
}

func TestEvent(t *testing.T) {
	r := validRide()

	driver, err := KeyDriver.Selector()
	require.NoError(t, err)
	client, err := KeyClient.Selector()
	require.NoError(t, err)

	ev := r.Event(driver)
	assert.Equal(t, "driver-1", ev.Key)
	assert.Equal(t, "order-1", ev.OrderID)
	assert.Equal(t, base, ev.Timestamp)
	assert.Equal(t, r.SegmentDistance(), ev.Distance)
	assert.Equal(t, r.SegmentDuration(), ev.Duration)

	assert.Equal(t, "client-1", r.Event(client).Key)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Ride)
		wantErr string
	}{
		{"valid", func(*Ride) {}, ""},
		{"missing order id", func(r *Ride) { r.OrderID = " " }, "order id"},
		{"missing timestamp", func(r *Ride) { r.Timestamp = time.Time{} }, "timestamp"},
		{"bad pickup", func(r *Ride) { r.FromLatitude = 91 }, "pickup"},
		{"bad drop-off", func(r *Ride) { r.ToLongitude = math.NaN() }, "drop-off"},
		{"negative duration", func(r *Ride) { r.Duration = -1 }, "duration"},
		{"infinite arrived distance", func(r *Ride) { r.ArrivedDistance = math.Inf(1) }, "arrived_distance"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := validRide()
			tt.mutate(&r)
			err := r.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestRowError(t *testing.T) {
	inner := errors.New("timestamp is required")
	err := error(&RowError{Index: 4, OrderID: "o-9", Err: inner})

	assert.Equal(t, "ride 4 (order o-9): timestamp is required", err.Error())
	assert.True(t, errors.Is(err, inner))

	var rowErr *RowError
	require.True(t, errors.As(err, &rowErr))
	assert.Equal(t, 4, rowErr.Index)
}

func TestSortByTimestamp_Stable(t *testing.T) {
	rides := []Ride{
		{OrderID: "c", Timestamp: base.Add(time.Hour)},
		{OrderID: "a", Timestamp: base},
		{OrderID: "d", Timestamp: base.Add(time.Hour)},
		{OrderID: "b", Timestamp: base},
	}

	SortByTimestamp(rides)

	var ids []string
	for _, r := range rides {
		ids = append(ids, r.OrderID)
	}
	assert.Equal(t, []string{"a", "b", "c", "d"}, ids)
}

func TestMerge(t *testing.T) {
	first := []Ride{
		{OrderID: "1", Timestamp: base.Add(2 * time.Hour)},
		{OrderID: "2", Timestamp: base},
	}
	second := []Ride{
		{OrderID: "3", Timestamp: base},
		{OrderID: "4", Timestamp: base.Add(time.Hour)},
	}

	merged := Merge(first, second)

	var ids []string
	for _, r := range merged {
		ids = append(ids, r.OrderID)
	}
	assert.Equal(t, []string{"2", "3", "4", "1"}, ids)
	assert.Equal(t, "1", first[0].OrderID, "inputs must not be reordered")
}

func TestParseKeyField(t *testing.T) {
	tests := []struct {
		in      string
		want    KeyField
		wantErr bool
	}{
		{"driver", KeyDriver, false},
		{"id_driver", KeyDriver, false},
		{" Client ", KeyClient, false},
		{"id_client", KeyClient, false},
		{"vehicle", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		got, err := ParseKeyField(tt.in)
		if tt.wantErr {
			assert.Error(t, err, "input %q", tt.in)
			continue
		}
		require.NoError(t, err, "input %q", tt.in)
		assert.Equal(t, tt.want, got)
	}

	_, err := KeyField("vehicle").Selector()
	assert.Error(t, err)
}
