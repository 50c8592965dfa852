package api

import "testing"

func TestArtifactDisposition(t *testing.T) {
	cases := []struct {
		path, suggested string
		wantType        string
		wantName        string
	}{
		{"/data/jobs/x/song.mp3", "song.mp3", "audio/mpeg", "song.mp3"},
		{"/data/jobs/x/bundle.zip", "mediaforge-x.zip", "application/zip", "mediaforge-x.zip"},
		{"/data/jobs/x/subs.srt", "", "text/plain; charset=utf-8", "subs.srt"},
		{"/data/jobs/x/clip.MOV", "clip.MOV", "video/quicktime", "clip.MOV"},
		{"/data/jobs/x/blob.xyz", "blob.xyz", "application/octet-stream", "blob.xyz"},
	}
	for _, c := range cases {
		ct, name := artifactDisposition(c.path, c.suggested)
		if ct != c.wantType || name != c.wantName {
			t.Errorf("artifactDisposition(%q, %q) = (%q, %q), want (%q, %q)",
				c.path, c.suggested, ct, name, c.wantType, c.wantName)
		}
	}
}

func TestArtifactDispositionForcesGIF(t *testing.T) {
	ct, name := artifactDisposition("/data/jobs/x/clip.gif", "clip")
	if ct != "image/gif" {
		t.Fatalf("expected image/gif, got %s", ct)
	}
	if name != "clip.gif" {
		t.Fatalf("expected .gif appended, got %s", name)
	}

	ct, name = artifactDisposition("/data/jobs/x/clip.gif", "clip.gif")
	if ct != "image/gif" || name != "clip.gif" {
		t.Fatalf("already-correct name must pass through, got %s %s", ct, name)
	}
}
