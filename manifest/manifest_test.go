package manifest

import "testing"

const sample = "#EXTM3U\n" +
	"#EXT-X-TWITCH-INFO:NODE=\"video-edge-abc.fra02\",SERVER-TIME=\"100.0\",STREAM-TIME=\"5.0\",BROADCAST-ID=\"42\",USER-IP=\"1.2.3.4\"\n" +
	"#EXT-X-MEDIA:TYPE=VIDEO,GROUP-ID=\"chunked\",NAME=\"1080p60 (source)\",AUTOSELECT=YES,DEFAULT=YES\n" +
	"#EXT-X-STREAM-INF:BANDWIDTH=6000000,RESOLUTION=1920x1080,CODECS=\"avc1.64002A,mp4a.40.2\",VIDEO=\"chunked\",FRAME-RATE=60.000\n" +
	"https://video-weaver.fra02.hls.ttvnw.net/v1/playlist/abc.m3u8\n"

func TestParseTwitchInfo(t *testing.T) {
	p := Parse(sample, 0, false)

	for key, want := range map[string]string{
		"SERVER-TIME":  "100.0",
		"STREAM-TIME":  "5.0",
		"BROADCAST-ID": "42",
	} {
		got, ok := p.Attr("#EXT-X-TWITCH-INFO", key)
		if !ok || got != want {
			t.Errorf("Attr(%s) = %q, %v; want %q", key, got, ok, want)
		}
	}

	epoch, ok := p.StartEpoch()
	if !ok || epoch != 95 {
		t.Errorf("StartEpoch() = %d, %v; want 95", epoch, ok)
	}
	id, ok := p.BroadcastID()
	if !ok || id != "42" {
		t.Errorf("BroadcastID() = %q, %v; want 42", id, ok)
	}
}

func TestParseQuotedCommaNotSplit(t *testing.T) {
	p := Parse(sample, 0, false)
	got, ok := p.Attr("#EXT-X-STREAM-INF", "CODECS")
	if !ok || got != "avc1.64002A,mp4a.40.2" {
		t.Errorf("CODECS = %q, %v; want quoted value kept whole", got, ok)
	}
	name, ok := p.Attr("#EXT-X-MEDIA", "NAME")
	if !ok || name != "1080p60 (source)" {
		t.Errorf("NAME = %q, %v", name, ok)
	}
}

func TestParseCollectsURLs(t *testing.T) {
	p := Parse(sample, 0, false)
	e, ok := p["url"]
	if !ok || len(e.List) != 1 {
		t.Fatalf("url entry = %+v, %v; want one collected url", e, ok)
	}
	if e.List[0] != "https://video-weaver.fra02.hls.ttvnw.net/v1/playlist/abc.m3u8" {
		t.Errorf("url = %q", e.List[0])
	}

	if _, ok := Parse(sample, 0, true)["url"]; ok {
		t.Error("skipURLs should leave urls out of the result")
	}
}

func TestParseNonManifest(t *testing.T) {
	for _, src := range []string{"", "not a playlist", "{\"error\":\"Not Found\"}", "EXTM3U without marker"} {
		if got := Parse(src, 0, false); len(got) != 0 {
			t.Errorf("Parse(%q) = %v; want empty", src, got)
		}
	}
}

func TestParseLineLimit(t *testing.T) {
	p := Parse(sample, 2, false)
	if _, ok := p["#EXT-X-TWITCH-INFO"]; !ok {
		t.Error("line 2 should be parsed")
	}
	if _, ok := p["#EXT-X-MEDIA"]; ok {
		t.Error("lines past the limit should be ignored")
	}
}

func TestHasVariants(t *testing.T) {
	if !Parse(sample, 0, false).HasVariants() {
		t.Error("sample has a variant")
	}
	bare := "#EXTM3U\n#EXT-X-TWITCH-INFO:SERVER-TIME=\"100.0\",STREAM-TIME=\"5.0\",BROADCAST-ID=\"42\"\n"
	if Parse(bare, 0, false).HasVariants() {
		t.Error("timing-only playlist has no variants yet")
	}
}

func TestStartEpochMissingTags(t *testing.T) {
	src := "#EXTM3U\n#EXT-X-TWITCH-INFO:SERVER-TIME=\"100.0\"\n"
	if _, ok := Parse(src, 0, false).StartEpoch(); ok {
		t.Error("StartEpoch should fail without STREAM-TIME")
	}
}
