package shaparak

import (
	"github.com/mstgnz/shaparak/provider"
	"github.com/mstgnz/shaparak/provider/asanpardakht"
	"github.com/mstgnz/shaparak/provider/asanpardakhtrest"
	"github.com/mstgnz/shaparak/provider/mellat"
	"github.com/mstgnz/shaparak/provider/melli"
	"github.com/mstgnz/shaparak/provider/ozone"
	"github.com/mstgnz/shaparak/provider/parsian"
	"github.com/mstgnz/shaparak/provider/pasargad"
	"github.com/mstgnz/shaparak/provider/saderat"
	"github.com/mstgnz/shaparak/provider/saman"
	"github.com/mstgnz/shaparak/provider/zarinpal"
)

// New returns a registry with every supported gateway registered
func New(opts ...provider.RegistryOption) *provider.Registry {
	r := provider.NewRegistry(opts...)
	for _, register := range []func(*provider.Registry){
		saman.Register,
		mellat.Register,
		parsian.Register,
		pasargad.Register,
		asanpardakht.Register,
		asanpardakhtrest.Register,
		melli.Register,
		saderat.Register,
		zarinpal.Register,
		ozone.Register,
	} {
		register(r)
	}
	return r
}

// ConfigFields returns the credential rules of every supported gateway
func ConfigFields() map[string][]provider.ConfigField {
	return map[string][]provider.ConfigField{
		provider.Saman:            saman.RequiredConfig(),
		provider.Mellat:           mellat.RequiredConfig(),
		provider.Parsian:          parsian.RequiredConfig(),
		provider.Pasargad:         pasargad.RequiredConfig(),
		provider.AsanPardakht:     asanpardakht.RequiredConfig(),
		provider.AsanPardakhtREST: asanpardakhtrest.RequiredConfig(),
		provider.Melli:            melli.RequiredConfig(),
		provider.Saderat:          saderat.RequiredConfig(),
		provider.Zarinpal:         zarinpal.RequiredConfig(),
		provider.Ozone:            ozone.RequiredConfig(),
	}
}
