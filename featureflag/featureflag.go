package featureflag

// FeatureFlag is a lookup map of enabled features.
type FeatureFlag map[Flag]struct{}

// New returns feature flags initialized with the given list of flags.
func New(flags []string) FeatureFlag {
	featureFlag := make(FeatureFlag)
	for _, f := range flags {
		featureFlag[Flag(f)] = struct{}{}
	}
	return featureFlag
}

// IfSet runs do if flag is set in the feature flags.
func (f FeatureFlag) IfSet(flag Flag, do func()) {
	if _, ok := f[flag]; !ok {
		return
	}
	do()
}

// IfNotSet runs do if flag is not set in the feature flags.
func (f FeatureFlag) IfNotSet(flag Flag, do func()) {
	if _, ok := f[flag]; ok {
		return
	}
	do()
}
