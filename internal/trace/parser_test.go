package trace

import "testing"

func TestParse_SimpleTrace(t *testing.T) {
	lines := []string{
		"traceroute from 129.186.1.240 to 184.66.242.2",
		"1  129.186.6.251  0.235 ms",
		"2  129.186.254.131  0.787 ms",
		"3  192.245.179.52  1.290 ms",
		"4  192.245.179.166  1.318 ms",
	}

	links, removed, err := Parse(lines)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if removed != nil {
		t.Fatalf("did not expect a removed last hop, got %v", *removed)
	}
	if len(links) != 4 {
		t.Fatalf("expected 4 links, got %d: %+v", len(links), links)
	}
	if links[0].IP1 != "129.186.1.240" || links[0].IP2 != "129.186.6.251" {
		t.Errorf("unexpected first link: %+v", links[0])
	}
}

func TestParse_EmptyTrace(t *testing.T) {
	_, _, err := Parse(nil)
	if _, ok := err.(*EmptyTraceError); !ok {
		t.Fatalf("expected EmptyTraceError, got %v", err)
	}
}

func TestParse_DropsLastHopAbove800ms(t *testing.T) {
	lines := []string{
		"traceroute from 129.186.1.240 to 8.8.8.8",
		"1  129.186.6.251  1.0 ms",
		"2  129.186.254.131  950.0 ms",
	}
	links, removed, err := Parse(lines)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if removed == nil || *removed != 950.0 {
		t.Fatalf("expected removed=950.0, got %v", removed)
	}
	if len(links) != 1 {
		t.Fatalf("expected only the source->hop1 link once the last hop is dropped, got %+v", links)
	}
}

func TestParse_ZeroDelayBecomesOneMillisecond(t *testing.T) {
	lines := []string{
		"traceroute from 129.186.1.240 to 8.8.8.8",
		"1  129.186.6.251  0.0 ms",
	}
	links, _, err := Parse(lines)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(links) != 1 {
		t.Fatalf("expected 1 link, got %+v", links)
	}
	if links[0].Delay != 1.0 {
		t.Errorf("expected zero-delay hop to become 1ms, got %v", links[0].Delay)
	}
}

func TestParse_SkipsStarHops(t *testing.T) {
	lines := []string{
		"traceroute from 129.186.1.240 to 8.8.8.8",
		"1  129.186.6.251  1.0 ms",
		"2  * * *",
		"3  192.245.179.52  3.0 ms",
	}
	links, _, err := Parse(lines)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(links) != 2 {
		t.Fatalf("expected 2 links (source->hop1, hop1->hop3), got %+v", links)
	}
}

func TestIPIsValid(t *testing.T) {
	cases := map[string]bool{
		"129.186.1.240": true,
		"192.168.1.1":   false,
		"10.0.0.1":      false,
		"172.16.0.1":    false,
		"172.31.0.1":    false,
		"172.32.0.1":    true,
		"127.0.0.1":     false,
	}
	for ip, want := range cases {
		if got := IPIsValid(ip); got != want {
			t.Errorf("IPIsValid(%q) = %v, want %v", ip, got, want)
		}
	}
}

func TestDifferent24_ComparesFourthOctet(t *testing.T) {
	if Different24("1.2.3.4", "1.2.3.5", false) != true {
		t.Error("expected different fourth octets to report true")
	}
	if Different24("1.2.3.4", "9.9.9.4", false) != false {
		t.Error("expected matching fourth octets to report false regardless of earlier octets")
	}
	if Different24("1.2.3.4", "1.2.3.5", true) != false {
		t.Error("expected ignore=true to force false")
	}
}

func TestDifferentAS_UnknownWhenEitherMissing(t *testing.T) {
	_, known := DifferentAS("", "64500", false)
	if known {
		t.Error("expected known=false when an ASN is empty")
	}
	different, known := DifferentAS("64500", "64501", false)
	if !known || !different {
		t.Error("expected known=true, different=true for distinct ASNs")
	}
}
