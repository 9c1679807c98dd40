package dedup

import (
	"slices"
	"strings"
)

// Profile is a named threshold preset for a kind of content.
type Profile struct {
	Name      string  `yaml:"name"`
	Window    int     `yaml:"window"`
	Threshold float64 `yaml:"threshold"`
}

// Built-in profiles.
var (
	ProfileDefault    = Profile{Name: "default", Window: DefaultWindow, Threshold: DefaultThreshold}
	ProfileLiveStream = Profile{Name: "live_stream", Window: 8, Threshold: 0.80}
	ProfilePodcast    = Profile{Name: "podcast", Window: DefaultWindow, Threshold: 0.85}
	ProfileNews       = Profile{Name: "news", Window: 4, Threshold: 0.90}
)

var profiles = []Profile{ProfileDefault, ProfileLiveStream, ProfilePodcast, ProfileNews}

// Profiles returns the built-in profiles.
func Profiles() []Profile {
	return slices.Clone(profiles)
}

// LookupProfile returns the built-in profile with the given name.
func LookupProfile(name string) (Profile, bool) {
	for _, p := range profiles {
		if p.Name == name {
			return p, true
		}
	}
	return Profile{}, false
}

// ProfileFor picks a profile from a video title and/or channel name.
func ProfileFor(title string) Profile {
	t := strings.ToLower(title)
	switch {
	case strings.Contains(t, "coffee break"), strings.Contains(t, "live"), strings.Contains(t, "ไลฟ์"):
		return ProfileLiveStream
	case strings.Contains(t, "podcast"), strings.Contains(t, "พอดแคสต์"):
		return ProfilePodcast
	case strings.Contains(t, "news"), strings.Contains(t, "ข่าว"):
		return ProfileNews
	default:
		return ProfileDefault
	}
}
