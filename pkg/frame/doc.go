// Package frame reconstructs operand-stack and local-variable types
// through a method body.
//
// Step maps a State and one instruction to the next State. Trace threads
// it through a body until the states are stable, merging them where paths
// join. Merge-point frames already present in the body are taken as given;
// a rewriting pass that inserts new branch targets asks the trace for the
// state at each of them.
package frame
