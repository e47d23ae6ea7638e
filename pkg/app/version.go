package app

import "github.com/small-frappuccino/kokobot/pkg/util"

// AppVersion is the version stamped into the binary, "dev" when unset.
func AppVersion() string {
	return util.Version
}

// SetAppVersion overrides the reported version.
func SetAppVersion(v string) {
	util.Version = v
}
