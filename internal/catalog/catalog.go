// Package catalog defines the purchasable credit packages and metered feature costs.
package catalog

import (
	"errors"
	"sort"
	"strings"

	"github.com/mystartupai/creditledger/internal/models"
	"github.com/shopspring/decimal"
)

// ErrInvalidPackage indicates an unknown or non-purchasable package type.
var ErrInvalidPackage = errors.New("invalid package")

// Package describes a credit bundle.
type Package struct {
	Type     string          `json:"type"`
	Name     string          `json:"name"`
	Credits  int64           `json:"credits"`
	PriceUSD decimal.Decimal `json:"priceUsd"`
	// Plan is the subscription plan a purchase activates; empty for top-ups.
	Plan string `json:"plan,omitempty"`
}

// IsPlan reports whether buying the package changes the subscription.
func (p Package) IsPlan() bool {
	return p.Plan != ""
}

// Package type identifiers.
const (
	PackageFreemium      = "FREEMIUM"
	PackageCore          = "CORE"
	PackagePro           = "PRO"
	PackageQuick500      = "QUICK_500"
	PackageQuick1000     = "QUICK_1000"
	PackageEnterprise10K = "ENTERPRISE_10K"
	PackageEnterprise25K = "ENTERPRISE_25K"
)

// SignupCredits is the FREEMIUM grant given to every new account.
const SignupCredits int64 = 200

var packages = map[string]Package{
	PackageFreemium:      {Type: PackageFreemium, Name: "Freemium", Credits: SignupCredits, PriceUSD: decimal.Zero, Plan: models.PlanFreemium},
	PackageCore:          {Type: PackageCore, Name: "Core", Credits: 2000, PriceUSD: decimal.NewFromInt(29), Plan: models.PlanCore},
	PackagePro:           {Type: PackagePro, Name: "Pro", Credits: 7000, PriceUSD: decimal.NewFromInt(79), Plan: models.PlanPro},
	PackageQuick500:      {Type: PackageQuick500, Name: "Quick Top-up 500", Credits: 500, PriceUSD: decimal.NewFromInt(9)},
	PackageQuick1000:     {Type: PackageQuick1000, Name: "Quick Top-up 1,000", Credits: 1000, PriceUSD: decimal.NewFromInt(15)},
	PackageEnterprise10K: {Type: PackageEnterprise10K, Name: "Enterprise 10K", Credits: 10000, PriceUSD: decimal.NewFromInt(99)},
	PackageEnterprise25K: {Type: PackageEnterprise25K, Name: "Enterprise 25K", Credits: 25000, PriceUSD: decimal.NewFromInt(229)},
}

// aliases maps legacy package names onto catalog types.
var aliases = map[string]string{
	"BASIC": PackageCore,
}

// Normalize upper-cases a package type and resolves aliases.
func Normalize(packageType string) string {
	normalized := strings.ToUpper(strings.TrimSpace(packageType))
	if alias, ok := aliases[normalized]; ok {
		return alias
	}
	return normalized
}

// Lookup returns the purchasable package for packageType.
func Lookup(packageType string) (Package, error) {
	pkg, ok := packages[Normalize(packageType)]
	if !ok || !pkg.PriceUSD.IsPositive() {
		return Package{}, ErrInvalidPackage
	}
	return pkg, nil
}

// Packages returns all packages ordered by price.
func Packages() []Package {
	out := make([]Package, 0, len(packages))
	for _, pkg := range packages {
		out = append(out, pkg)
	}
	sort.Slice(out, func(i, j int) bool {
		if cmp := out[i].PriceUSD.Cmp(out[j].PriceUSD); cmp != 0 {
			return cmp < 0
		}
		return out[i].Type < out[j].Type
	})
	return out
}

// PlanAllotment returns the credits included with a plan.
func PlanAllotment(plan string) int64 {
	pkg, ok := packages[Normalize(plan)]
	if !ok || pkg.Plan == "" {
		return 0
	}
	return pkg.Credits
}
