// Package dossier builds hash-signed evidence report bundles from reviewed
// cases. A plan names the cases to include; generation renders a JSON
// payload and a markdown report, signs both into a manifest, and optionally
// mirrors the bundle to remote storage. Verification re-hashes every
// referenced artifact so tampering or loss is detectable later.
package dossier
