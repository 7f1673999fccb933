package peer_test

import (
	"fmt"
	"testing"

	"github.com/archlabs/blockchain/foundation/blockchain/peer"
)

// Success and failure markers.
const (
	success = "✓"
	failed  = "✗"
)

func TestSet(t *testing.T) {
	t.Log("Given the need to manage the known peer set.")
	{
		ps := peer.NewSet()

		if !ps.Add("127.0.0.1:2002") {
			t.Fatalf("\t%s\tShould add a new peer.", failed)
		}
		t.Logf("\t%s\tShould add a new peer.", success)

		if !ps.Contains("127.0.0.1:2002") || ps.Count() != 1 {
			t.Fatalf("\t%s\tShould track the added peer.", failed)
		}
		t.Logf("\t%s\tShould track the added peer.", success)

		// Re-adding refreshes rather than duplicating.
		if !ps.Add("127.0.0.1:2002") || ps.Count() != 1 {
			t.Fatalf("\t%s\tShould refresh a known peer without duplicating.", failed)
		}
		t.Logf("\t%s\tShould refresh a known peer without duplicating.", success)

		ps.Remove("127.0.0.1:2002")
		if ps.Contains("127.0.0.1:2002") {
			t.Fatalf("\t%s\tShould remove the peer.", failed)
		}
		t.Logf("\t%s\tShould remove the peer.", success)
	}
}

func TestCap(t *testing.T) {
	t.Log("Given the need to bound the peer set.")
	{
		ps := peer.NewSetWithMax(2)
		ps.Add("h1:1")
		ps.Add("h2:1")

		if ps.Add("h3:1") {
			t.Fatalf("\t%s\tShould reject a peer over the cap.", failed)
		}
		t.Logf("\t%s\tShould reject a peer over the cap.", success)

		// A known peer still refreshes at capacity.
		if !ps.Add("h1:1") {
			t.Fatalf("\t%s\tShould refresh a known peer at capacity.", failed)
		}
		t.Logf("\t%s\tShould refresh a known peer at capacity.", success)
	}
}

func TestKnownPeersExcludesSelf(t *testing.T) {
	t.Log("Given the need to list peers for fanout.")
	{
		ps := peer.NewSet()
		for i := 0; i < 3; i++ {
			ps.Add(fmt.Sprintf("peer%d:2001", i))
		}

		peers := ps.KnownPeers("peer1:2001")
		if len(peers) != 2 {
			t.Fatalf("\t%s\tShould exclude the given host, got %d peers.", failed, len(peers))
		}
		for _, host := range peers {
			if host == "peer1:2001" {
				t.Fatalf("\t%s\tShould not include the excluded host.", failed)
			}
		}
		t.Logf("\t%s\tShould exclude the given host.", success)
	}
}
