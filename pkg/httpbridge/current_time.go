package httpbridge

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/soypete/voicebridge/pkg/timeconv"
)

// CurrentTime describes now in one zone
type CurrentTime struct {
	UTC          string `json:"utc"`
	UTCTimestamp int64  `json:"utc_timestamp"`
	Timezone     string `json:"timezone"`
	Offset       string `json:"offset"`
	Local        string `json:"local"`
	Year         int    `json:"year"`
	Month        int    `json:"month"`
	Day          int    `json:"day"`
	Hour         int    `json:"hour"`
	Minute       int    `json:"minute"`
	Second       int    `json:"second"`
	Weekday      string `json:"weekday"`
	IsAM         bool   `json:"is_am"`
}

// RelativeDate is a calendar day near today
type RelativeDate struct {
	Date    string `json:"date"`
	Weekday string `json:"weekday"`
}

// BusinessHours summarizes whether the zone is inside 09:00-17:00 on a weekday
type BusinessHours struct {
	IsBusinessHours bool   `json:"is_business_hours"`
	NextBusinessDay string `json:"next_business_day"`
}

// UsefulInfo holds preformatted strings for the voice agent
type UsefulInfo struct {
	CurrentDateString string        `json:"current_date_string"`
	CurrentTimeString string        `json:"current_time_string"`
	ISODate           string        `json:"iso_date"`
	BusinessHours     BusinessHours `json:"business_hours"`
}

// CurrentTimeResponse is the body of /api/current-time
type CurrentTimeResponse struct {
	Status        string                  `json:"status"`
	CurrentTime   CurrentTime             `json:"current_time"`
	RelativeDates map[string]RelativeDate `json:"relative_dates"`
	UsefulInfo    UsefulInfo              `json:"useful_info"`
}

// handleCurrentTime reports the current time in the zone given by ?timezone=
// or a JSON body {"timezone": ...}, falling back to the default zone
func (s *Server) handleCurrentTime(w http.ResponseWriter, r *http.Request) {
	tz := s.config.Time.DefaultTimezone
	switch r.Method {
	case http.MethodGet:
		if q := r.URL.Query().Get("timezone"); q != "" {
			tz = q
		}
	case http.MethodPost:
		var body struct {
			Timezone string `json:"timezone"`
		}
		raw, ok := readBody(w, r)
		if !ok {
			return
		}
		// A missing or unparseable body keeps the default zone
		if json.Unmarshal(raw, &body) == nil && body.Timezone != "" {
			tz = body.Timezone
		}
	}

	loc, err := timeconv.LoadZone(tz)
	if err != nil {
		respondJSON(w, http.StatusBadRequest, WebhookResponse{Status: statusError, Message: err.Error()})
		return
	}

	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	respondJSON(w, http.StatusOK, currentTime(s.now(), loc, tz))
}

func currentTime(now time.Time, loc *time.Location, tz string) CurrentTimeResponse {
	local := now.In(loc)
	weekday := local.Weekday()

	day := func(offset int) RelativeDate {
		d := local.AddDate(0, 0, offset)
		return RelativeDate{Date: d.Format(timeconv.DateLayout), Weekday: d.Weekday().String()}
	}

	next := "Tomorrow"
	if weekday == time.Friday || weekday == time.Saturday || weekday == time.Sunday {
		next = "Monday"
	}
	weekend := weekday == time.Saturday || weekday == time.Sunday

	return CurrentTimeResponse{
		Status: statusSuccess,
		CurrentTime: CurrentTime{
			UTC:          now.UTC().Format(time.RFC3339),
			UTCTimestamp: now.UnixMilli(),
			Timezone:     tz,
			Offset:       local.Format(timeconv.OffsetLayout),
			Local:        local.Format("Monday, 02/01/2006, 03:04:05 PM"),
			Year:         local.Year(),
			Month:        int(local.Month()),
			Day:          local.Day(),
			Hour:         local.Hour(),
			Minute:       local.Minute(),
			Second:       local.Second(),
			Weekday:      weekday.String(),
			IsAM:         local.Hour() < 12,
		},
		RelativeDates: map[string]RelativeDate{
			"today":              day(0),
			"tomorrow":           day(1),
			"day_after_tomorrow": day(2),
			"next_week":          day(7),
		},
		UsefulInfo: UsefulInfo{
			CurrentDateString: local.Format("Monday, 02/01/2006"),
			CurrentTimeString: local.Format("3:04 PM"),
			ISODate:           local.Format(timeconv.DateLayout),
			BusinessHours: BusinessHours{
				IsBusinessHours: !weekend && local.Hour() >= 9 && local.Hour() < 17,
				NextBusinessDay: next,
			},
		},
	}
}
