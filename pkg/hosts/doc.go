/*
Package hosts tracks the fleet of machines agents may be launched on.

Selection is first-fit in registration order, which keeps placement
deterministic for tests and predictable for operators.
*/
package hosts
