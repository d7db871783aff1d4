/*
Package actiontree parses the nested, parenthesis-delimited expression format the
server embeds in UI-description payloads ("action trees").

The format has no stable schema. Parsing therefore favors graceful degradation over
exactness: Parse is total and never fails, even on unbalanced input. Higher layers
locate data by searching for literal marker keys rather than by walking a fixed
shape.

# Usage

	tree := actiontree.Parse(actiontree.PayloadAction(body))

	// Locate every map constructor in the tree.
	for _, m := range actiontree.Search(tree, "bk.action.map.Make") {
		fmt.Println(m.Node.Raw)
	}

	// Locate the owning key/value pair of a marker key.
	path := actiontree.FindPath(tree, "two_step_verification_context")
	owner, ok := actiontree.OwnerPath(path)
*/
package actiontree
