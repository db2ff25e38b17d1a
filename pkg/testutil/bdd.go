package testutil

import "testing"

// Given, When and Then label the stages of a scenario as nested subtests.
// Go runs sibling subtests in declaration order, so later stages observe the
// state earlier ones left in the enclosing scope, and failures report with
// the full "Given .../When .../Then ..." path.
func Given(t *testing.T, desc string, fn func(t *testing.T)) {
	t.Helper()
	t.Run("Given "+desc, fn)
}

func When(t *testing.T, desc string, fn func(t *testing.T)) {
	t.Helper()
	t.Run("When "+desc, fn)
}

func Then(t *testing.T, desc string, fn func(t *testing.T)) {
	t.Helper()
	t.Run("Then "+desc, fn)
}
