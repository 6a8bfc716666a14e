package service

import (
	"regexp"
	"testing"
	"time"

	"adops-service/internal/apperr"
	"adops-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func itemReq(showID int64, airDate, placement string) ReservationItemRequest {
	return ReservationItemRequest{
		ShowID:        showID,
		AirDate:       airDate,
		PlacementType: placement,
		Length:        30,
		Rate:          50000,
	}
}

func TestValidateItems(t *testing.T) {
	parsed, err := validateItems([]ReservationItemRequest{
		itemReq(1, "2026-09-15", models.PlacementPreRoll),
		itemReq(2, "2026-09-16", models.PlacementMidRoll),
	})
	require.NoError(t, err)
	require.Len(t, parsed, 2)
	assert.Equal(t, int64(1), parsed[0].ShowID)
	assert.Equal(t, time.Date(2026, 9, 15, 0, 0, 0, 0, time.UTC), parsed[0].AirDate)
}

func TestValidateItemsRejections(t *testing.T) {
	tests := []struct {
		name  string
		items []ReservationItemRequest
	}{
		{"empty", nil},
		{"missing show", []ReservationItemRequest{{AirDate: "2026-09-15", PlacementType: models.PlacementPreRoll, Length: 30, Rate: 1}}},
		{"missing air date", []ReservationItemRequest{{ShowID: 1, PlacementType: models.PlacementPreRoll, Length: 30, Rate: 1}}},
		{"bad air date", []ReservationItemRequest{itemReq(1, "15/09/2026", models.PlacementPreRoll)}},
		{"bad placement", []ReservationItemRequest{itemReq(1, "2026-09-15", "banner")}},
		{"zero length", []ReservationItemRequest{{ShowID: 1, AirDate: "2026-09-15", PlacementType: models.PlacementPreRoll, Rate: 1}}},
		{"zero rate", []ReservationItemRequest{{ShowID: 1, AirDate: "2026-09-15", PlacementType: models.PlacementPreRoll, Length: 30}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := validateItems(tt.items)
			require.Error(t, err)
			assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
		})
	}
}

func TestSlotDemand(t *testing.T) {
	date := time.Date(2026, 9, 15, 0, 0, 0, 0, time.UTC)
	items := []models.ReservationItem{
		{ShowID: 1, AirDate: date, PlacementType: models.PlacementPreRoll},
		{ShowID: 1, AirDate: date, PlacementType: models.PlacementPreRoll},
		{ShowID: 1, AirDate: date, PlacementType: models.PlacementMidRoll},
		{ShowID: 2, AirDate: date, PlacementType: models.PlacementPreRoll},
	}

	demand := slotDemand(items)
	assert.Len(t, demand, 3)
	assert.Equal(t, 2, demand[slotKey{ShowID: 1, Date: date, Placement: models.PlacementPreRoll}])
	assert.Equal(t, 1, demand[slotKey{ShowID: 1, Date: date, Placement: models.PlacementMidRoll}])
	assert.Equal(t, 1, demand[slotKey{ShowID: 2, Date: date, Placement: models.PlacementPreRoll}])
}

func TestSortedSlotKeysStable(t *testing.T) {
	d1 := time.Date(2026, 9, 15, 0, 0, 0, 0, time.UTC)
	d2 := time.Date(2026, 9, 16, 0, 0, 0, 0, time.UTC)
	demand := map[slotKey]int{
		{ShowID: 2, Date: d1, Placement: models.PlacementPreRoll}: 1,
		{ShowID: 1, Date: d2, Placement: models.PlacementPreRoll}: 1,
		{ShowID: 1, Date: d1, Placement: models.PlacementMidRoll}: 1,
		{ShowID: 1, Date: d1, Placement: models.PlacementPreRoll}: 1,
	}

	first := sortedSlotKeys(demand)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, sortedSlotKeys(demand))
	}
	for i := 1; i < len(first); i++ {
		assert.Less(t, first[i-1].String(), first[i].String())
	}
}

func TestTotalAmount(t *testing.T) {
	items := []models.ReservationItem{{Rate: 50000}, {Rate: 75000}, {Rate: 25000}}
	assert.Equal(t, int64(150000), totalAmount(items))
	assert.Equal(t, int64(0), totalAmount(nil))
}

func TestDemandDelta(t *testing.T) {
	d := time.Date(2026, 9, 15, 0, 0, 0, 0, time.UTC)
	kept := slotKey{ShowID: 1, Date: d, Placement: models.PlacementPreRoll}
	dropped := slotKey{ShowID: 2, Date: d, Placement: models.PlacementPreRoll}
	grown := slotKey{ShowID: 3, Date: d, Placement: models.PlacementMidRoll}
	added := slotKey{ShowID: 4, Date: d, Placement: models.PlacementPostRoll}

	oldDemand := map[slotKey]int{kept: 2, dropped: 1, grown: 1}
	newDemand := map[slotKey]int{kept: 2, grown: 3, added: 1}

	delta := demandDelta(oldDemand, newDemand)
	assert.Equal(t, 0, delta[kept])
	assert.Equal(t, -1, delta[dropped])
	assert.Equal(t, 2, delta[grown])
	assert.Equal(t, 1, delta[added])
}

func TestNewReservationNumberFormat(t *testing.T) {
	re := regexp.MustCompile(`^RES-\d{8}-[0-9A-F]{8}$`)

	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		n := newReservationNumber()
		assert.Regexp(t, re, n)
		assert.False(t, seen[n], "duplicate number %s", n)
		seen[n] = true
	}
}
