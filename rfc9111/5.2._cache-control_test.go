package rfc9111

import (
	"net/http"
	"testing"
	"time"
)

func TestMaxAge(t *testing.T) {
	cc := ParseCacheControl([]string{"max-age=60"})
	val, ok := cc.Get("max-age")
	if !ok {
		t.Fatal("Could not get directive")
	}
	if val != "60" {
		t.Fatalf("Value is %s", val)
	}
	if d, ok := cc.MaxAge(); !ok || d != time.Minute {
		t.Fatalf("MaxAge is %v (%v)", d, ok)
	}
}

func TestReal(t *testing.T) {
	cc := ParseCacheControl([]string{"public, max-age=0, s-maxage=600"})
	if val, ok := cc.Get("public"); !ok || val != "" {
		t.Fatalf("val: '%s', ok: %v", val, ok)
	}
	if val, ok := cc.Get("max-age"); !ok || val != "0" {
		t.Fatalf("val: '%s', ok: %v", val, ok)
	}
	if val, ok := cc.Get("s-maxage"); !ok || val != "600" {
		t.Fatalf("val: '%s', ok: %v", val, ok)
	}
}

func TestNoSpaceAfterComma(t *testing.T) {
	cc := ParseCacheControl([]string{"private,max-age=0"})
	if !cc.HasDirective(DirectivePrivate) {
		t.Fatal("private missing")
	}
	if d, ok := cc.MaxAge(); !ok || d != 0 {
		t.Fatalf("MaxAge is %v (%v)", d, ok)
	}
}

func TestCaseAndQuotes(t *testing.T) {
	cc := ParseCacheControl([]string{`No-Cache, MAX-AGE="30"`})
	if !cc.HasDirective("no-cache") {
		t.Fatal("no-cache missing")
	}
	if d, ok := cc.MaxAge(); !ok || d != 30*time.Second {
		t.Fatalf("MaxAge is %v (%v)", d, ok)
	}
}

func TestMultipleFieldLines(t *testing.T) {
	header := http.Header{}
	header.Add("Cache-Control", "public")
	header.Add("Cache-Control", "must-revalidate")
	cc := ResponseCacheControl(header)
	if cc.Len() != 2 || !cc.HasDirective(DirectiveMustRevalidate) {
		t.Fatalf("Directives are %+v", cc)
	}
}

func TestMaxAgeWithoutArgument(t *testing.T) {
	if _, ok := ParseCacheControl([]string{"max-age"}).MaxAge(); ok {
		t.Fatal("max-age without argument reported as set")
	}
}

func TestInvalidMaxAgeIsZero(t *testing.T) {
	if d, ok := ParseCacheControl([]string{"max-age=soon"}).MaxAge(); !ok || d != 0 {
		t.Fatalf("MaxAge is %v (%v)", d, ok)
	}
}

func TestDeltaSecondsOverflow(t *testing.T) {
	d, ok := deltaSeconds("99999999999999999999999")
	if !ok || d != time.Second*maxDeltaSeconds {
		t.Fatalf("Delta seconds is %v (%v)", d, ok)
	}
}
