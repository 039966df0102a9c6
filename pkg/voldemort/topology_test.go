package voldemort

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

const sampleClusterXML = `<cluster>
  <name>test-cluster</name>
  <server><id>0</id><host>host0</host><socket-port>6666</socket-port><partitions>0,1,2,3</partitions></server>
  <server><id>1</id><host>host1</host><socket-port>6666</socket-port><partitions>4,5,6,7</partitions></server>
</cluster>`

func TestParseClusterXML(t *testing.T) {
	topo, err := parseClusterXML([]byte(sampleClusterXML))
	require.NoError(t, err)

	want := &ClusterTopology{
		Name: "test-cluster",
		Nodes: map[string]*NodeDescriptor{
			"0": {NodeID: "0", Host: "host0", Port: 6666, Partitions: []int{0, 1, 2, 3}},
			"1": {NodeID: "1", Host: "host1", Port: 6666, Partitions: []int{4, 5, 6, 7}},
		},
		Ring: []string{"0", "0", "0", "0", "1", "1", "1", "1"},
	}

	if diff := cmp.Diff(want, topo); diff != "" {
		t.Fatalf("unexpected topology (-want +got):\n%s", diff)
	}
}

func TestParseClusterXMLRejectsDuplicatePartition(t *testing.T) {
	xml := `<cluster>
  <name>dup</name>
  <server><id>0</id><host>h0</host><socket-port>1</socket-port><partitions>0,1</partitions></server>
  <server><id>1</id><host>h1</host><socket-port>1</socket-port><partitions>1,2</partitions></server>
</cluster>`
	_, err := parseClusterXML([]byte(xml))
	require.Error(t, err)
}

func TestParseClusterXMLRejectsGap(t *testing.T) {
	xml := `<cluster>
  <name>gap</name>
  <server><id>0</id><host>h0</host><socket-port>1</socket-port><partitions>0,2</partitions></server>
</cluster>`
	_, err := parseClusterXML([]byte(xml))
	require.Error(t, err)
}

func TestParsePartitionList(t *testing.T) {
	ids, err := parsePartitionList("1, 2\t3\n4")
	require.NoError(t, err)
	require.Equal(t, []int{1, 2, 3, 4}, ids)
}
