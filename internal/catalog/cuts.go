package catalog

import (
	"errors"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/Theodlz/ep-ztf-xmatch/internal/config"
)

// QualityCuts holds the catalog-side filter thresholds.
//
// The defaults are the production values; a YAML file can override them for
// tuning without a rebuild.
type QualityCuts struct {
	// RBMin is the random-forest real/bogus lower bound (exclusive).
	RBMin float64 `yaml:"rb_min"`

	// DRBMin is the deep-learning real/bogus lower bound (exclusive).
	DRBMin float64 `yaml:"drb_min"`

	// SSDistMin is the minimum distance in arcsec to the nearest known
	// solar-system object. Closer alerts pass only when SSMagWindow says
	// the association is implausible.
	SSDistMin float64 `yaml:"ss_dist_min"`

	// SSMagWindow bounds plausible solar-system magnitudes: an ssmagnr
	// outside [-SSMagWindow, SSMagWindow] is treated as no association.
	SSMagWindow float64 `yaml:"ss_mag_window"`

	// SGScoreMax and DistPSNRMax define the star rejection: alerts with
	// sgscore1 >= SGScoreMax and 0 < distpsnr1 <= DistPSNRMax are cut.
	SGScoreMax  float64 `yaml:"sgscore_max"`
	DistPSNRMax float64 `yaml:"distpsnr_max"`
}

// DefaultCutsPath is the default location of the quality-cut override file.
const DefaultCutsPath = ".xmatch-cuts.yaml"

// CutsPathEnvVar is the environment variable for a custom override path.
const CutsPathEnvVar = "CATALOG_CUTS_PATH"

// DefaultQualityCuts returns the production thresholds.
func DefaultQualityCuts() QualityCuts {
	return QualityCuts{
		RBMin:       0.3,
		DRBMin:      0.5,
		SSDistMin:   12.0,
		SSMagWindow: 20.0,
		SGScoreMax:  0.7,
		DistPSNRMax: 2.0,
	}
}

// LoadQualityCuts loads threshold overrides from a YAML file at the given
// path.
//
// Behavior:
//   - Returns the defaults (not an error) if the file doesn't exist -
//     overrides are optional
//   - Returns the defaults + logs a warning if the YAML is invalid
//     (graceful degradation)
//   - Returns the file's values merged over the defaults on success
func LoadQualityCuts(path string) QualityCuts {
	cuts := DefaultQualityCuts()

	data, err := os.ReadFile(path) //nolint:gosec // path is from trusted config source
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			slog.Debug("cuts file not found, using defaults", slog.String("path", path))

			return cuts
		}

		slog.Warn("failed to read cuts file, using defaults",
			slog.String("path", path),
			slog.String("error", err.Error()))

		return cuts
	}

	if len(data) == 0 {
		return cuts
	}

	if err := yaml.Unmarshal(data, &cuts); err != nil {
		slog.Warn("failed to parse cuts file, using defaults",
			slog.String("path", path),
			slog.String("error", err.Error()))

		return DefaultQualityCuts()
	}

	return cuts
}

// LoadQualityCutsFromEnv loads overrides from the path in CATALOG_CUTS_PATH,
// falling back to ".xmatch-cuts.yaml" in the current directory.
func LoadQualityCutsFromEnv() QualityCuts {
	return LoadQualityCuts(config.GetEnvStr(CutsPathEnvVar, DefaultCutsPath))
}
