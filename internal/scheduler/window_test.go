package scheduler

import (
	"testing"
	"time"

	"github.com/acme/campaign-engine/internal/domain"
)

func TestMayExecuteNowDayWindow(t *testing.T) {
	campaign := &domain.Campaign{StartHour: 9, EndHour: 17, TimeZone: "UTC"}

	mondayMorning := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	if !MayExecuteNow(campaign, mondayMorning) {
		t.Fatalf("expected %v to be inside the window", mondayMorning)
	}

	atClose := time.Date(2024, 1, 1, 17, 0, 0, 0, time.UTC)
	if MayExecuteNow(campaign, atClose) {
		t.Fatalf("expected %v to be outside the window, end hour is exclusive", atClose)
	}

	beforeOpen := time.Date(2024, 1, 1, 8, 59, 0, 0, time.UTC)
	if MayExecuteNow(campaign, beforeOpen) {
		t.Fatalf("expected %v to be outside the window", beforeOpen)
	}
}

func TestMayExecuteNowOvernightWindow(t *testing.T) {
	campaign := &domain.Campaign{StartHour: 22, EndHour: 6}

	for hour, want := range map[int]bool{23: true, 2: true, 10: false, 22: true, 6: false} {
		now := time.Date(2024, 1, 1, hour, 0, 0, 0, time.UTC)
		if got := MayExecuteNow(campaign, now); got != want {
			t.Errorf("hour %d: got %v, want %v", hour, got, want)
		}
	}
}

func TestMayExecuteNowAroundTheClock(t *testing.T) {
	campaign := &domain.Campaign{}
	for hour := 0; hour < 24; hour++ {
		if !MayExecuteNow(campaign, time.Date(2024, 1, 1, hour, 30, 0, 0, time.UTC)) {
			t.Fatalf("expected hour %d to be allowed", hour)
		}
	}
}

func TestMayExecuteNowAroundTheClockIgnoresCallingDays(t *testing.T) {
	campaign := &domain.Campaign{CallingDays: []string{"monday"}}

	tuesday := time.Date(2024, 1, 2, 12, 0, 0, 0, time.UTC)
	if !MayExecuteNow(campaign, tuesday) {
		t.Fatalf("expected 0/0 hours to allow %v regardless of calling days", tuesday)
	}
}

func TestMayExecuteNowCallingDays(t *testing.T) {
	campaign := &domain.Campaign{StartHour: 9, EndHour: 17, CallingDays: []string{"Monday", "wednesday"}}

	monday := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	tuesday := monday.AddDate(0, 0, 1)
	wednesday := monday.AddDate(0, 0, 2)

	if !MayExecuteNow(campaign, monday) {
		t.Fatalf("expected monday to be allowed")
	}
	if MayExecuteNow(campaign, tuesday) {
		t.Fatalf("expected tuesday to be rejected")
	}
	if !MayExecuteNow(campaign, wednesday) {
		t.Fatalf("expected wednesday to be allowed")
	}
}

func TestMayExecuteNowUsesCampaignZone(t *testing.T) {
	campaign := &domain.Campaign{StartHour: 9, EndHour: 17, TimeZone: "America/New_York", CallingDays: []string{"monday"}}

	// 14:00 UTC on a Monday is 09:00 in New York.
	if !MayExecuteNow(campaign, time.Date(2024, 1, 1, 14, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected window to open at 09:00 local time")
	}
	// 02:00 UTC on Tuesday is still Monday evening in New York, but after hours.
	if MayExecuteNow(campaign, time.Date(2024, 1, 2, 2, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected evening to be outside the window")
	}

	unknown := &domain.Campaign{StartHour: 9, EndHour: 17, TimeZone: "Nowhere/Special"}
	if !MayExecuteNow(unknown, time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected unknown zone to fall back to UTC")
	}
}
