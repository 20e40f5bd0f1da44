// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import "github.com/AleutianAI/AutoTARA/services/store"

// FilterAssets narrows assets to those whose model identifier or minted
// tag equals the given identifier. An empty identifier keeps everything
// and resolves no tag. The resolved tag of the first match is returned
// so downstream records can be filtered by assetTag.
func FilterAssets(assets []Asset, identifier string) ([]Asset, string) {
	if identifier == "" {
		return assets, ""
	}
	var filtered []Asset
	for _, a := range assets {
		if a.AssetID == identifier || a.AssetTag == identifier {
			filtered = append(filtered, a)
		}
	}
	if len(filtered) == 0 {
		return nil, ""
	}
	return filtered, filtered[0].AssetTag
}

// resolveAssetTag loads the run's assets and resolves an identifier to
// its tag. It returns "" both for an empty identifier and for one that
// matches nothing; callers distinguish via the identifier itself.
func resolveAssetTag(run *store.Run, identifier string) (string, error) {
	if identifier == "" {
		return "", nil
	}
	assets, err := loadTolerant(AssetRepo(run))
	if err != nil {
		return "", err
	}
	_, tag := FilterAssets(assets, identifier)
	return tag, nil
}
