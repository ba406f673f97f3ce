// Package tl defines the objects exchanged with the update server: push
// envelopes, atomic updates, messages, peers and difference pages.
//
// Envelopes, updates and difference pages are closed sum types. Each family
// is an interface with an unexported marker method, so only this package can
// add variants. Every variant has a wire name returned by TypeName and is
// encoded as a JSON object carrying that name under the "_" key.
//
// # Cursor carriers
//
// PtsOf, QtsOf and ChannelIDOf expose the ordering data of an update:
//   - pts-sequenced updates carry (pts, ptsCount) in the common scope or in a
//     channel scope
//   - qts-sequenced updates carry qts in the common scope
//   - everything else is unordered
//
// Dummy updates (NewDummyUpdate) move pts without representing a real event.
package tl
