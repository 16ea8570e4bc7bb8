package config

import (
	"fmt"
	"os"
	"strings"
)

const (
	KindFixture = "fixture"
	KindDaemon  = "daemon"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case KindFixture:
		return fixtureTemplate, nil
	case KindDaemon:
		return daemonTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const fixtureTemplate = `now = 2026-03-16T08:00:00Z

[[participants]]
id = "alex"
name = "Alex"
status = "open"
max_social_events_per_week = 3
ignore_all_day = true

[[participants]]
id = "sam"
name = "Sam"
status = "open"
max_social_events_per_week = 2
accept_tiers = ["inner_circle", "friend"]
ignore_all_day = true
focus_time_is_free = true

  [[participants.blackout_windows]]
  day = "tuesday"
  start = "09:00"
  end = "18:00"
  reason = "Deep Work"

  [[participants.events]]
  summary = "URGENT client deadline"
  start = 2026-03-17T18:00:00Z
  end = 2026-03-17T20:00:00Z
  work = true

  [[participants.events]]
  summary = "Team Sync"
  start = 2026-03-18T11:00:00Z
  end = 2026-03-18T12:00:00Z
  work = true

[[participants]]
id = "jo"
name = "Jo"
status = "recharging"
max_social_events_per_week = 1

[[relationships]]
initiator = "alex"
target = "sam"
tier = "friend"
mode = "irl_only"
drift_threshold_days = 21
last_interaction = 2026-02-01T19:00:00Z
energy = "medium"
shared_interests = ["jazz", "ramen"]

[[relationships]]
initiator = "alex"
target = "jo"
tier = "inner_circle"
mode = "any"
drift_threshold_days = 14
energy = "low"
`

const daemonTemplate = `id = "lagomd"
addr = ":8088"
cors_origins = ["http://localhost:3000"]
api_token = ""
fixture = ""
timezone = "UTC"
log_file = ""

[store]
backend = "memory"
sqlite_path = "lagom.db"
redis_addr = "127.0.0.1:6379"
redis_password = ""
redis_db = 0
redis_prefix = "lagom"

[engine]
horizon_days = 3
waking_start = 10
waking_end = 21
focused_start = 19
conceal_fraction = 0.3
jitter_step = "30m"
max_jitter = "30m"
cooldown = "0s"
check_initiator_calendar = false

[retry]
max_attempts = 3
initial_delay = "250ms"
multiplier = 2.0
max_delay = "5s"
jitter = true
concurrency = 4

[enrich]
backend = "static"
model = "gpt-4o-mini"
base_url = ""
requests_per_minute = 60
timeout = "10s"

[maintenance]
schedule = "@daily"
retention = "2160h"
`
