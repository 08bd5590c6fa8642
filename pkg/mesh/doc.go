// Package mesh is the WireGuard mesh manager (C11): key pairs, interface
// lifecycle, topology (full-mesh / hub-spoke / custom), the per-network IP
// allocator, and peer synchronization between a topology and a live
// interface. Built on wgctrl/wgtypes for the WireGuard wiring and on original_source's
// claw-wireguard/{manager,mesh}.rs for the manager/topology/allocator
// semantics, generalized behind an Interface port so the manager can be
// tested without a real kernel WireGuard device.
package mesh
