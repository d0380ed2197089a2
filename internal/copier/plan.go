package copier

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// FacetKind is one selection dimension of an order.
type FacetKind string

const (
	FacetGenre  FacetKind = "genre"
	FacetArtist FacetKind = "artist"
	FacetVideo  FacetKind = "video"
	FacetMovie  FacetKind = "movie"
	FacetSeries FacetKind = "series"
)

// Category folders at the top of every device.
const (
	DirMusic   = "MUSICA"
	DirArtists = "ARTISTAS"
	DirVideos  = "VIDEOS"
	DirMovies  = "PELICULAS"
	DirSeries  = "SERIES"
	DirExtras  = "EXTRAS"
)

// ManifestName is the playlist written under MUSICA after the music phase.
const ManifestName = "playlist.m3u"

// Facet is one requested keyword.
type Facet struct {
	Kind    FacetKind `json:"kind"`
	Keyword string    `json:"keyword"`
}

// Plan describes one copy job.
type Plan struct {
	JobID       string
	Destination string
	Facets      []Facet
	Observer    func(Event)
}

// category returns the top-level folder a facet writes into.
func (k FacetKind) category() string {
	switch k {
	case FacetGenre, FacetArtist:
		return DirMusic
	case FacetVideo:
		return DirVideos
	case FacetMovie:
		return DirMovies
	case FacetSeries:
		return DirSeries
	default:
		return ""
	}
}

// phaseOrder fixes the order categories are copied in; music runs first so
// the manifest is written before the long video copies.
var phaseOrder = []string{DirMusic, DirVideos, DirMovies, DirSeries}

// facetFolder returns the device-relative folder for a keyword facet.
func facetFolder(f Facet) []string {
	name := folderName(f.Keyword)
	switch f.Kind {
	case FacetArtist:
		return []string{DirMusic, DirArtists, name}
	default:
		return []string{f.Kind.category(), name}
	}
}

// folderName upper-cases a keyword and strips characters FAT filesystems reject.
func folderName(keyword string) string {
	upper := cases.Upper(language.Und).String(strings.TrimSpace(keyword))
	var b strings.Builder
	for _, r := range upper {
		switch {
		case r < 0x20, strings.ContainsRune(`<>:"/\|?*`, r):
			b.WriteRune('_')
		default:
			b.WriteRune(r)
		}
	}
	name := strings.Trim(b.String(), " .")
	if name == "" {
		return "_"
	}
	return name
}
