package qlink

import (
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestCircuitBreakerInterface(t *testing.T) {
	Convey("Given a circuit breaker guarding a backend", t, func() {
		breaker := NewCircuitBreaker(2, 100*time.Millisecond, 1)

		Convey("It regulates and takes outcomes", func() {
			var _ Regulator = breaker
			var _ Outcome = breaker

			breaker.Observe(NewMetrics())
			So(breaker.Limit(), ShouldBeFalse)
		})

		Convey("Non-positive limits are raised to one", func() {
			b := NewCircuitBreaker(0, time.Hour, 0)
			b.RecordFailure()
			So(b.State(), ShouldEqual, CircuitOpen)
		})
	})
}

func TestCircuitBreakerFailureThreshold(t *testing.T) {
	Convey("Given a circuit breaker with a failure threshold of two", t, func() {
		breaker := NewCircuitBreaker(2, 100*time.Millisecond, 1)
		metrics := NewMetrics()
		breaker.Observe(metrics)

		Convey("It starts closed", func() {
			So(breaker.Allow(), ShouldBeTrue)
			So(breaker.State(), ShouldEqual, CircuitClosed)
			So(breaker.State().String(), ShouldEqual, "closed")
		})

		Convey("It opens after two failures and reports the trip", func() {
			breaker.RecordFailure()
			So(breaker.State(), ShouldEqual, CircuitClosed)
			breaker.RecordFailure()

			So(breaker.Allow(), ShouldBeFalse)
			So(breaker.Limit(), ShouldBeTrue)
			So(breaker.State(), ShouldEqual, CircuitOpen)
			So(metrics.Export()["breaker_trips"], ShouldEqual, int64(1))

			time.Sleep(150 * time.Millisecond)

			So(breaker.Allow(), ShouldBeTrue)
			So(breaker.State(), ShouldEqual, CircuitHalfOpen)
		})

		Convey("A success resets the failure run", func() {
			breaker.RecordFailure()
			breaker.RecordSuccess()
			breaker.RecordFailure()

			So(breaker.Allow(), ShouldBeTrue)
			So(breaker.State(), ShouldEqual, CircuitClosed)
			So(breaker.failureCount, ShouldEqual, 1)
		})
	})
}

func TestCircuitBreakerHalfOpen(t *testing.T) {
	Convey("Given a circuit breaker that has been open past its timeout", t, func() {
		breaker := NewCircuitBreaker(2, 100*time.Millisecond, 1)
		breaker.RecordFailure()
		breaker.RecordFailure()
		time.Sleep(150 * time.Millisecond)

		So(breaker.Allow(), ShouldBeTrue)
		So(breaker.State(), ShouldEqual, CircuitHalfOpen)

		Convey("A successful trial payload closes it", func() {
			breaker.RecordSuccess()
			So(breaker.State(), ShouldEqual, CircuitClosed)
		})

		Convey("A failed trial payload opens it again", func() {
			breaker.RecordFailure()
			So(breaker.State(), ShouldEqual, CircuitOpen)
			So(breaker.Allow(), ShouldBeFalse)
		})
	})
}

func TestCircuitBreakerRenormalize(t *testing.T) {
	Convey("Given a circuit breaker in open state", t, func() {
		breaker := NewCircuitBreaker(2, 100*time.Millisecond, 1)
		breaker.RecordFailure()
		breaker.RecordFailure()

		Convey("Renormalize waits for the reset timeout", func() {
			breaker.Renormalize()
			So(breaker.State(), ShouldEqual, CircuitOpen)

			time.Sleep(150 * time.Millisecond)
			breaker.Renormalize()

			So(breaker.State(), ShouldEqual, CircuitHalfOpen)
			So(breaker.halfOpenAttempts, ShouldEqual, 0)
		})
	})
}
