// Package dispatch drains unsent mail records from the mail store and hands
// them to the SMTP transport. A Worker runs one bounded cycle; a Scheduler
// repeats cycles at a fixed interval.
package dispatch
