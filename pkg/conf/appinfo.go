package conf

// AppFacts is the informative subset of app.conf that the engine
// reports alongside packaging and sideload results.
type AppFacts struct {
	Label       string `json:"label,omitempty"`
	Author      string `json:"author,omitempty"`
	Version     string `json:"version,omitempty"`
	Description string `json:"description,omitempty"`
	PackageID   string `json:"package_id,omitempty"`
}

// FactsFromAppConf extracts AppFacts from a merged app.conf. Missing
// stanzas or keys simply leave fields empty.
func FactsFromAppConf(appConf File) AppFacts {
	return AppFacts{
		Label:       appConf.Get("ui", "label"),
		Author:      appConf.Get("launcher", "author"),
		Version:     appConf.Get("launcher", "version"),
		Description: appConf.Get("launcher", "description"),
		PackageID:   appConf.Get("package", "id"),
	}
}
