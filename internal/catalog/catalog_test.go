package catalog

import (
	"errors"
	"testing"
)

func TestLookup(t *testing.T) {
	pkg, err := Lookup("core")
	if err != nil {
		t.Fatalf("lookup core: %v", err)
	}
	if pkg.Credits != 2000 || pkg.PriceUSD.String() != "29" || !pkg.IsPlan() {
		t.Fatalf("unexpected core package %+v", pkg)
	}

	alias, err := Lookup("BASIC")
	if err != nil {
		t.Fatalf("lookup alias: %v", err)
	}
	if alias.Type != PackageCore {
		t.Fatalf("expected BASIC to resolve to CORE, got %s", alias.Type)
	}

	topUp, err := Lookup("QUICK_500")
	if err != nil {
		t.Fatalf("lookup top-up: %v", err)
	}
	if topUp.IsPlan() {
		t.Fatalf("top-ups must not change the plan")
	}
}

func TestLookup_Invalid(t *testing.T) {
	for _, packageType := range []string{"", "GOLD", "FREEMIUM"} {
		if _, err := Lookup(packageType); !errors.Is(err, ErrInvalidPackage) {
			t.Fatalf("Lookup(%q) expected ErrInvalidPackage, got %v", packageType, err)
		}
	}
}

func TestPackages_SortedByPrice(t *testing.T) {
	list := Packages()
	if len(list) != 7 {
		t.Fatalf("expected 7 packages, got %d", len(list))
	}
	if list[0].Type != PackageFreemium {
		t.Fatalf("expected freemium first, got %s", list[0].Type)
	}
	for i := 1; i < len(list); i++ {
		if list[i].PriceUSD.LessThan(list[i-1].PriceUSD) {
			t.Fatalf("packages not sorted at %d", i)
		}
	}
}

func TestFeatureCost(t *testing.T) {
	cost, ok := FeatureCost("business_plan")
	if !ok || cost != 200 {
		t.Fatalf("expected business plan cost 200, got %d ok=%v", cost, ok)
	}
	if _, ok := FeatureCost("teleport"); ok {
		t.Fatalf("unknown feature must not have a cost")
	}
	if PlanAllotment("PRO") != 7000 || PlanAllotment("QUICK_500") != 0 {
		t.Fatalf("unexpected plan allotments")
	}
}
