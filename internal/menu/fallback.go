package menu

import "fmt"

// Fallback is the order used when no suggestion is available: one large
// cheese pizza per person plus garlic knots.
func Fallback(familySize int) []string {
	if familySize < 1 {
		familySize = 1
	}
	plural := ""
	if familySize > 1 {
		plural = "s"
	}
	return []string{
		fmt.Sprintf("%d large cheese pizza%s", familySize, plural),
		"1 garlic knots",
	}
}
