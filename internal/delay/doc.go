// Package delay implements an in-process delayed-event scheduler.
//
// Callers register a message with a target time; the Scheduler hands the
// job back to listeners once that time is reached, in time order.
//
// Basic usage:
//
//	s := delay.New(delay.Config{Logger: logger})
//	s.OnJob(func(j delay.Job) {
//		logger.Info("due", "id", j.ID(), "message", j.Message())
//	})
//
//	job, err := s.Add(delay.Spec{Time: time.Now().Add(time.Minute), Message: "hi"}, false)
//	if err != nil {
//		return err
//	}
//	s.Remove(job.ID(), false)
//
// Timer management:
//   - one timer is armed at a time, pointed at the earliest job
//   - delays above MaxTimerDelay are bridged with waypoint timers that only re-arm
//   - when a timer fires, every job already due fires together, in order
//   - Clear and Remove invalidate armed timers before re-arming
//
// Events:
//   - addJob, removeJob and clearJobs report queue changes; silent mode
//     suppresses them so a persistence layer can replay stored jobs
//   - job reports a job that became due
//
// Listeners run synchronously, in event order, outside the scheduler lock,
// so they may call back into the Scheduler. Tests drive time with FakeClock.
package delay
