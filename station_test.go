package qlink

import (
	"fmt"
	"sync"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestStation(t *testing.T) {
	Convey("Given a new station", t, func() {
		station := NewStation()

		Convey("The log is seeded", func() {
			So(station.Log(), ShouldResemble, []string{"SYSTEM READY...", "WAITING FOR UPLINK..."})
		})

		Convey("The log keeps only the most recent lines", func() {
			for i := 0; i < 20; i++ {
				station.AppendLog(fmt.Sprintf("line %d", i))
			}
			lines := station.Log()
			So(len(lines), ShouldEqual, LogCapacity)
			So(lines[0], ShouldEqual, "line 12")
			So(lines[LogCapacity-1], ShouldEqual, "line 19")
		})

		Convey("Returned logs are copies", func() {
			lines := station.Log()
			lines[0] = "tampered"
			So(station.Log()[0], ShouldEqual, "SYSTEM READY...")
		})

		Convey("Publishing updates the snapshot and the atomic fidelity", func() {
			station.publish(Snapshot{Protocol: "P", Fidelity: 0.75, Scanning: true, Log: []string{"ignored"}})
			snap := station.Snapshot()
			So(snap.Protocol, ShouldEqual, "P")
			So(snap.Scanning, ShouldBeTrue)
			So(snap.Fidelity, ShouldEqual, 0.75)
			So(station.Fidelity(), ShouldEqual, 0.75)
			So(len(snap.Log), ShouldEqual, 2)
		})

		Convey("Concurrent writers and readers are safe", func() {
			var wg sync.WaitGroup
			for w := 0; w < 8; w++ {
				wg.Add(1)
				go func(w int) {
					defer wg.Done()
					for i := 0; i < 100; i++ {
						station.AppendLog(fmt.Sprintf("w%d-%d", w, i))
						_ = station.Snapshot()
						_ = station.Fidelity()
					}
				}(w)
			}
			wg.Wait()
			So(len(station.Log()), ShouldEqual, LogCapacity)
		})
	})
}
