package rosbridge

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/museovivo/robot-tour-server/internal/queue"
)

// batteryLow and batteryCritical are the charge thresholds (percent)
// at which alerts fire; batteryReset re-arms both alerts once the robot
// is charging again.
const (
	batteryLow      = 20.0
	batteryCritical = 10.0
	batteryReset    = 25.0

	// kobukiBatteryMax is the raw sensor value reported at full charge.
	kobukiBatteryMax = 164.0

	simInterval  = 60 * time.Second
	simDrainRate = 0.1 // percent per tick
	simFloor     = 5.0
	staleWindow  = 2 * time.Minute
)

// BatteryStatus is the battery snapshot published on the status endpoint.
type BatteryStatus struct {
	Level     float64 `json:"level"`
	Low       bool    `json:"low"`
	Critical  bool    `json:"critical"`
	Simulated bool    `json:"simulated"`
}

// batteryMonitor tracks the robot's charge level from the base sensor
// stream and raises each alert at most once per discharge cycle. When
// no telemetry arrives it drains a simulated level so the dashboard
// still shows a plausible figure.
type batteryMonitor struct {
	link *Link

	mu               sync.Mutex
	level            float64
	lowNotified      bool
	criticalNotified bool
	lastReading      time.Time

	simOnce sync.Once
}

// setup subscribes to the base sensor stream and arms the simulation
// fallback. Called after every (re)connect.
func (b *batteryMonitor) setup() {
	err := b.link.Subscribe(TopicBatterySensor, "kobuki_msgs/SensorState", func(msg json.RawMessage) {
		b.handleSensor(msg)
	})
	if err != nil {
		log.Printf("rosbridge: battery telemetry unavailable: %v", err)
	}
	b.simOnce.Do(func() { go b.simulate() })
}

// handleSensor scales the raw kobuki reading (0..164) to percent and
// runs the threshold check.
func (b *batteryMonitor) handleSensor(msg json.RawMessage) {
	var s sensorState
	if err := json.Unmarshal(msg, &s); err != nil || s.Battery == nil {
		return
	}
	level := *s.Battery / kobukiBatteryMax * 100
	if level < 0 {
		level = 0
	}
	if level > 100 {
		level = 100
	}
	b.mu.Lock()
	b.level = level
	b.lastReading = time.Now()
	b.mu.Unlock()
	b.check()
}

// check fires BATTERY_LOW at 20% and BATTERY_CRITICAL at 10%, each at
// most once until the level climbs back above 25%. A critical reading
// also halts the robot.
func (b *batteryMonitor) check() {
	b.mu.Lock()
	level := b.level
	var fireLow, fireCritical bool
	if level <= batteryCritical && !b.criticalNotified {
		b.criticalNotified = true
		fireCritical = true
	} else if level <= batteryLow && !b.lowNotified {
		b.lowNotified = true
		fireLow = true
	}
	if level > batteryReset {
		b.lowNotified = false
		b.criticalNotified = false
	}
	b.mu.Unlock()

	if fireCritical {
		log.Printf("rosbridge: battery critical at %.1f%%, stopping robot", level)
		if err := b.link.Stop(); err != nil {
			log.Printf("rosbridge: emergency stop failed: %v", err)
		}
		if b.link.notifier != nil {
			b.link.notifier.Notify(queue.BatteryCritical, map[string]any{
				"level": level,
			})
		}
	}
	if fireLow {
		log.Printf("rosbridge: battery low at %.1f%%", level)
		if b.link.notifier != nil {
			b.link.notifier.Notify(queue.BatteryLow, map[string]any{
				"level": level,
			})
		}
	}
}

// simulate drains the level slowly while no real telemetry is arriving,
// so thresholds still trip during long sensorless runs.
func (b *batteryMonitor) simulate() {
	ticker := time.NewTicker(simInterval)
	defer ticker.Stop()
	for {
		select {
		case <-b.link.done:
			return
		case <-ticker.C:
			b.mu.Lock()
			fresh := !b.lastReading.IsZero() && time.Since(b.lastReading) < staleWindow
			if fresh {
				b.mu.Unlock()
				continue
			}
			if b.level > simFloor {
				b.level -= simDrainRate
				if b.level < simFloor {
					b.level = simFloor
				}
			}
			b.mu.Unlock()
			b.check()
		}
	}
}

func (b *batteryMonitor) status() BatteryStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BatteryStatus{
		Level:     b.level,
		Low:       b.lowNotified,
		Critical:  b.criticalNotified,
		Simulated: b.lastReading.IsZero() || time.Since(b.lastReading) >= staleWindow,
	}
}
