// Package tool tracks tool invocation lifecycles and executes the builtin
// tools available to the assistant.
//
// Each tool call owns an Invocation state machine that moves strictly
// forward through partial-call -> call -> result. The Registry maps static
// tool names to Executors and converts execution failures into terminal
// error results so a failing tool never corrupts the surrounding answer.
package tool
