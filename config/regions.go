package config

// Region represents a map region configuration
type Region struct {
	Name      string    `json:"name"`
	Center    []float64 `json:"center"`
	ZoomLevel int       `json:"zoom_level"`
}

// SupportedRegions is a list of regions the dashboard can open on
var SupportedRegions = []Region{
	{
		Name:      "nsw",
		Center:    []float64{-32.1656, 147.0},
		ZoomLevel: 6,
	},
	{
		Name:      "sydney",
		Center:    []float64{-33.8688, 151.2093},
		ZoomLevel: 10,
	},
}

// GetRegionNames returns a list of supported region names
func GetRegionNames() []string {
	names := make([]string, len(SupportedRegions))
	for i, region := range SupportedRegions {
		names[i] = region.Name
	}
	return names
}

// GetRegionByName returns a region configuration by name
func GetRegionByName(name string) *Region {
	for _, region := range SupportedRegions {
		if region.Name == name {
			return &region
		}
	}
	return nil
}
