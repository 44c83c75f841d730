package domain

// CosmeticResources is the per-page cosmetic bundle handed to the injected page
// script. It is computed per query and never cached.
type CosmeticResources struct {
	HideSelectors  []string `json:"hide_selectors"`
	Exceptions     []string `json:"exceptions"`
	InjectedScript *string  `json:"injected_script"`
	// GenericHide keeps the key the page script reads.
	GenericHide    bool     `json:"generichide"`
}

// EmptyCosmeticResources returns a bundle that hides nothing.
func EmptyCosmeticResources() CosmeticResources {
	return CosmeticResources{HideSelectors: []string{}, Exceptions: []string{}}
}
