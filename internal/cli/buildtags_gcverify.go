//go:build gcverify

package cli

const buildTags = "gcverify"
