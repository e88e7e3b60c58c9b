// Package ir holds the instruction and label model shared by every other
// package: instructions with their operands and source locations, label
// handles, the flat Sequence form with its try markers, and the error kinds
// reported throughout bcir.
package ir
