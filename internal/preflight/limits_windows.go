//go:build windows

package preflight

func checkFileDescriptors() Check {
	return Check{
		Name:    "file_descriptors",
		Passed:  true,
		Message: "not limited on windows",
	}
}
