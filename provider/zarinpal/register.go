package zarinpal

import "github.com/mstgnz/shaparak/provider"

// Register adds the Zarinpal gateway to r
func Register(r *provider.Registry) {
	r.Register(provider.Zarinpal, New)
}
