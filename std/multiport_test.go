package std

import "testing"

func TestParseMultiPortSingle(t *testing.T) {
	mp, err := ParseMultiPort("127.0.0.1:8388")
	if err != nil {
		t.Fatalf("ParseMultiPort returned error: %v", err)
	}
	if mp.Host != "127.0.0.1" || mp.MinPort != 8388 || mp.MaxPort != 8388 {
		t.Fatalf("unexpected result: %+v", mp)
	}
}

func TestParseMultiPortRange(t *testing.T) {
	mp, err := ParseMultiPort("0.0.0.0:8000-8010")
	if err != nil {
		t.Fatalf("ParseMultiPort returned error: %v", err)
	}
	if mp.Host != "0.0.0.0" || mp.MinPort != 8000 || mp.MaxPort != 8010 {
		t.Fatalf("unexpected result: %+v", mp)
	}
}

func TestParseMultiPortEmptyHost(t *testing.T) {
	mp, err := ParseMultiPort(":8388")
	if err != nil {
		t.Fatalf("ParseMultiPort returned error: %v", err)
	}
	if mp.Host != "" || mp.MinPort != 8388 {
		t.Fatalf("unexpected result: %+v", mp)
	}
}

func TestParseMultiPortInvalid(t *testing.T) {
	cases := []string{
		"nohostorport",
		"host:0",
		"host:9000-8000",
		"host:70000",
	}
	for _, addr := range cases {
		if _, err := ParseMultiPort(addr); err == nil {
			t.Fatalf("expected error for %q", addr)
		}
	}
}
