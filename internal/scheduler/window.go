package scheduler

import (
	"strings"
	"time"

	"github.com/acme/campaign-engine/internal/domain"
)

// MayExecuteNow reports whether the campaign's calling window is open at now.
// 0/0 hours mean around the clock on every day; calling days are not
// consulted then. A start hour after the end hour describes an overnight
// window. Hour and weekday are taken in the campaign's time zone.
func MayExecuteNow(campaign *domain.Campaign, now time.Time) bool {
	if campaign.StartHour == 0 && campaign.EndHour == 0 {
		return true
	}
	local := now.In(campaign.Location())

	hour := local.Hour()
	if campaign.StartHour <= campaign.EndHour {
		if hour < campaign.StartHour || hour >= campaign.EndHour {
			return false
		}
	} else if hour < campaign.StartHour && hour >= campaign.EndHour {
		return false
	}

	if len(campaign.CallingDays) == 0 {
		return true
	}
	today := strings.ToLower(local.Weekday().String())
	for _, day := range campaign.CallingDays {
		if strings.ToLower(strings.TrimSpace(day)) == today {
			return true
		}
	}
	return false
}
