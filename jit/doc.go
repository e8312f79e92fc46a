// Package jit lowers WebAssembly memory operators to backend IR under
// the guard-region sandbox model.
//
// # Sandbox model
//
// Every linear memory reserves at least 2^33 bytes of virtual address
// space with only the current pages committed. The lowering therefore
// never emits an explicit bounds check: it zero-extends the 32-bit
// address and the 32-bit static offset to 64 bits and adds them, and
// any resulting offset lands either in committed pages or in the
// unmapped guard tail, which faults. The zero extension is the load-
// bearing step; sign extension would allow negative offsets to escape
// the reservation.
//
// # Lowering rules
//
//   - Plain loads and stores are emitted with alignment 1 and volatile
//     set, ignoring the Wasm alignment hint.
//   - Atomic operators trust the hint, but are preceded by an explicit
//     misalignment check that calls the misalignedAtomicTrap intrinsic.
//     All atomics are sequentially consistent and volatile.
//   - memory.copy compares the bounded source and destination and uses
//     a reverse byte loop when the source precedes the destination; the
//     forward path is rep movsb on x86. memory.fill is rep stosb on x86
//     and a byte loop elsewhere.
//   - memory.grow/size/init, data.drop, atomic.notify, and the waits
//     become intrinsic calls by name.
//   - Interleaved SIMD loads/stores use NEON ld{K}/st{K} on aarch64 and
//     generic lane shuffles elsewhere; interleaved element lane*K+v
//     belongs to vector v, lane lane.
//
// The Emitter exposes one method per Wasm operator and maintains the
// operand stack of the surrounding function translator.
package jit
