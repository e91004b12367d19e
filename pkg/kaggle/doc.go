// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

// Package kaggle is a small client for the Kaggle competitions API: it loads
// credentials the way the official CLI does, lists a competition's data
// files and downloads the competition archive.
package kaggle
