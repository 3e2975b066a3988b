package identity

import (
	"regexp"
	"testing"
)

func TestClassifyDevice(t *testing.T) {
	cases := map[string]DeviceClass{
		"Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X)":   DeviceIOS,
		"Mozilla/5.0 (iPad; CPU OS 16_6 like Mac OS X)":            DeviceIOS,
		"Mozilla/5.0 (iPod touch; CPU iPhone OS 12_0)":             DeviceIOS,
		"Mozilla/5.0 (Linux; Android 14; Pixel 8)":                 DeviceAndroid,
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) Chrome/126.0.0": DeviceOther,
		"": DeviceOther,
	}
	for ua, want := range cases {
		if got := ClassifyDevice(ua); got != want {
			t.Errorf("ClassifyDevice(%q) = %s, want %s", ua, got, want)
		}
	}
}

func TestNewLocalIDFormat(t *testing.T) {
	pattern := regexp.MustCompile(`^chat_[0-9a-z]{9}$`)
	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		id := NewLocalID()
		if !pattern.MatchString(id) {
			t.Fatalf("unexpected local id format: %q", id)
		}
		if seen[id] {
			t.Fatalf("duplicate local id %q", id)
		}
		seen[id] = true
	}
}

func TestCompositeID(t *testing.T) {
	id := Identity{LocalID: "chat_abc", UserAgent: "UA", Device: DeviceOther, Location: "Paris, France"}
	if got := id.CompositeID(); got != "chat_abc|UA|other|Paris, France" {
		t.Fatalf("unexpected composite id: %q", got)
	}
}

func TestNewDefaultsToUnknownLocation(t *testing.T) {
	id := New("Mozilla/5.0 (Linux; Android 14)")
	if id.Location != UnknownLocation {
		t.Fatalf("expected unknown location, got %q", id.Location)
	}
	if id.Device != DeviceAndroid {
		t.Fatalf("expected android, got %s", id.Device)
	}
	if !id.Valid() {
		t.Fatal("expected fresh identity to be valid")
	}
}

func TestFormatLocation(t *testing.T) {
	if got := FormatLocation("Lisbon", "Portugal"); got != "Lisbon, Portugal" {
		t.Fatalf("unexpected location: %q", got)
	}
	if got := FormatLocation("", "Portugal"); got != UnknownLocation {
		t.Fatalf("expected unknown for missing city, got %q", got)
	}
	if got := FormatLocation("Lisbon", " "); got != UnknownLocation {
		t.Fatalf("expected unknown for blank country, got %q", got)
	}
}
