package voldemort

import "math"

// RoutingStrategyConsistent is the only routing-strategy string this
// client understands.
const RoutingStrategyConsistent = "consistent-routing"

// ValidateRoutingStrategy rejects anything but "consistent-routing".
func ValidateRoutingStrategy(strategy string) error {
	if strategy != RoutingStrategyConsistent {
		return NewClientError("unsupported routing strategy: " + strategy)
	}
	return nil
}

// hashKey computes a 32-bit FNV-derived hash of key. The accumulator is
// carried as a plain uint64: XOR and multiplication depend only on the bit
// pattern, so 64-bit overflow is a no-op on the bits themselves and only
// matters for the final signed reduction below.
func hashKey(key []byte) int32 {
	const fnvPrime64 = (1 << 24) + 0x193
	acc := uint64(0x811C9DC5)
	for _, b := range key {
		acc = (acc ^ uint64(b)) * fnvPrime64
	}

	// Reduce to signed 32-bit.
	reduced := int32(uint32(acc))

	// Saturating absolute value: the one value whose negation overflows
	// int32 (math.MinInt32) maps to math.MaxInt32 instead of panicking /
	// wrapping back to itself.
	if reduced == math.MinInt32 {
		return math.MaxInt32
	}
	if reduced < 0 {
		return -reduced
	}
	return reduced
}

// PartitionFor returns the master partition id (0 <= id < len(ring)) that
// owns key under the ring's consistent-hash assignment.
func PartitionFor(key []byte, ringSize int) int {
	h := hashKey(key)
	return int(uint32(h)) % ringSize
}

// PreferenceList walks the partition ring clockwise from key's master
// partition, collecting partition ids whose owning node has not yet been
// seen, stopping once r distinct nodes have been collected or the walk
// returns to the master partition.
//
// ring[i] is the node id owning partition i; its length is P.
func PreferenceList(key []byte, ring []string, r int) ([]int, error) {
	if r <= 0 {
		return nil, NewClientError("replication factor must be positive")
	}
	p := len(ring)
	if p == 0 {
		return nil, NewClientError("empty partition ring")
	}

	master := PartitionFor(key, p)
	seen := make(map[string]struct{}, r)
	prefs := make([]int, 0, r)

	i := master
	for {
		node := ring[i]
		if _, ok := seen[node]; !ok {
			seen[node] = struct{}{}
			prefs = append(prefs, i)
			if len(seen) == r {
				break
			}
		}
		i = (i + 1) % p
		if i == master {
			break
		}
	}
	return prefs, nil
}
