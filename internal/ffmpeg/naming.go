package ffmpeg

import (
	"path"
	"strings"

	"github.com/jmylchreest/recodarr/internal/codec"
)

// EncodedName derives the output filename for an encode:
// "show.s01e01.mkv" with family HEVC and tag "Z3D" becomes
// "show.s01e01.h265.Z3D.mkv". A marker left over from an earlier encode
// with a different family is replaced, the extension is preserved, and a
// name already carrying the right marker and tag comes back unchanged.
// Directory components, when present, pass through untouched.
func EncodedName(original string, family codec.Family, releaseTag string) string {
	dir, base := path.Split(original)

	ext := path.Ext(base)
	stem := strings.TrimSuffix(base, ext)

	kept := make([]string, 0, 8)
	for _, token := range strings.Split(stem, ".") {
		if isCodecMarker(token) || (releaseTag != "" && token == releaseTag) {
			continue
		}
		kept = append(kept, token)
	}

	kept = append(kept, family.Marker())
	if releaseTag != "" {
		kept = append(kept, releaseTag)
	}

	return dir + strings.Join(kept, ".") + ext
}

func isCodecMarker(token string) bool {
	_, ok := codec.FamilyForMarker(token)
	return ok
}
