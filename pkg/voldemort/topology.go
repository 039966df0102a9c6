package voldemort

import (
	"encoding/xml"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// NodeDescriptor is one cluster member, parsed out of cluster.xml.
type NodeDescriptor struct {
	NodeID     string
	Host       string
	Port       int
	Partitions []int
}

// ClusterTopology is the immutable snapshot produced by a successful
// bootstrap. It is replaced atomically on re-bootstrap, never mutated in
// place.
type ClusterTopology struct {
	Name  string
	Nodes map[string]*NodeDescriptor // node_id -> descriptor

	// Ring is the dense partition_id -> node_id table, indexed 0..P-1.
	Ring []string
}

// xmlCluster/xmlServer mirror the required elements of cluster.xml, parsed
// with stdlib encoding/xml.
type xmlCluster struct {
	XMLName xml.Name    `xml:"cluster"`
	Name    string      `xml:"name"`
	Servers []xmlServer `xml:"server"`
}

type xmlServer struct {
	ID         int    `xml:"id"`
	Host       string `xml:"host"`
	SocketPort int    `xml:"socket-port"`
	Partitions string `xml:"partitions"`
}

// parseClusterXML parses cluster.xml into a ClusterTopology and validates
// the partition-assignment invariants: every partition id in [0,P) is
// present exactly once, where P = sum of |partition_ids|.
func parseClusterXML(data []byte) (*ClusterTopology, error) {
	var doc xmlCluster
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, WrapServerError(err, "parsing cluster.xml")
	}
	if doc.Name == "" {
		return nil, NewServerError("cluster.xml missing cluster name")
	}

	nodes := make(map[string]*NodeDescriptor, len(doc.Servers))
	assignment := make(map[int]string)
	total := 0

	for _, srv := range doc.Servers {
		partitions, err := parsePartitionList(srv.Partitions)
		if err != nil {
			return nil, WrapServerError(err, "parsing server partitions")
		}
		nodeID := strconv.Itoa(srv.ID)
		nodes[nodeID] = &NodeDescriptor{
			NodeID:     nodeID,
			Host:       srv.Host,
			Port:       srv.SocketPort,
			Partitions: partitions,
		}
		for _, p := range partitions {
			if existing, dup := assignment[p]; dup {
				return nil, NewServerError(fmt.Sprintf("partition %d assigned to both node %s and %s", p, existing, nodeID))
			}
			assignment[p] = nodeID
			total++
		}
	}

	ring := make([]string, total)
	for p := 0; p < total; p++ {
		owner, ok := assignment[p]
		if !ok {
			return nil, NewServerError(fmt.Sprintf("partition %d has no owning node", p))
		}
		ring[p] = owner
	}
	// Any assigned id outside [0,P) is also invalid (P was fixed by the
	// total count above, so a larger id here means a gap or duplicate was
	// hiding below it).
	for p := range assignment {
		if p < 0 || p >= total {
			return nil, NewServerError(fmt.Sprintf("partition id %d out of range [0,%d)", p, total))
		}
	}

	return &ClusterTopology{Name: doc.Name, Nodes: nodes, Ring: ring}, nil
}

func parsePartitionList(s string) ([]int, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n' || r == '\r'
	})
	out := make([]int, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		n, err := strconv.Atoi(f)
		if err != nil {
			return nil, fmt.Errorf("invalid partition id %q: %w", f, err)
		}
		if n < 0 {
			return nil, fmt.Errorf("negative partition id %q", f)
		}
		out = append(out, n)
	}
	return out, nil
}

// nodeIDsSorted returns the topology's node ids in ascending numeric order,
// useful for deterministic iteration (e.g. opening persistent connections).
func (t *ClusterTopology) nodeIDsSorted() []string {
	ids := make([]string, 0, len(t.Nodes))
	for id := range t.Nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		ni, _ := strconv.Atoi(ids[i])
		nj, _ := strconv.Atoi(ids[j])
		return ni < nj
	})
	return ids
}
