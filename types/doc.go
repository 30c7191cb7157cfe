// Package types provides core types used across the repowiki engine.
// This package has ZERO dependencies on other repowiki packages to avoid
// circular imports. All other packages should import types from here.
package types
