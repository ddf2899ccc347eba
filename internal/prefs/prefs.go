// internal/prefs/prefs.go
package prefs

// Per-uid avatar preferences. These are pure presentation state with no
// consistency requirements: readers fall back to defaults for missing or
// unrecognized values, and writers are notified out-of-band so other
// sessions of the same user can refresh.

// Prefs is one user's avatar customization.
type Prefs struct {
	Name          string `json:"name"`
	Skin          string `json:"skin"`
	AvatarType    string `json:"avatarType"`
	ElectricTheme string `json:"electricTheme"`
}

const (
	DefaultSkin          = "classic"
	DefaultAvatarType    = "classicAstronaut"
	DefaultElectricTheme = "blue"
)

var (
	validSkins = map[string]bool{
		"classic": true, "midnight": true, "mint": true, "sunset": true, "cyber": true,
	}
	validAvatarTypes = map[string]bool{
		"classicAstronaut": true, "redAstronaut": true, "robot": true,
	}
	validElectricThemes = map[string]bool{
		"blue": true, "pink": true, "red": true, "green": true, "purple": true,
		"white": true, "hotPink": true, "deepBlue": true, "blackEmits": true, "deepGreen": true,
	}
)

// Normalize replaces missing or unknown values with the defaults.
// Unrecognized stored values are tolerated rather than rejected, so a
// newer client can write a skin an older server has never heard of.
func (p Prefs) Normalize() Prefs {
	if !validSkins[p.Skin] {
		p.Skin = DefaultSkin
	}
	if !validAvatarTypes[p.AvatarType] {
		p.AvatarType = DefaultAvatarType
	}
	if !validElectricThemes[p.ElectricTheme] {
		p.ElectricTheme = DefaultElectricTheme
	}
	return p
}
