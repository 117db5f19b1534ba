package objectdb

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "data.txt")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadVectorHeadered(t *testing.T) {
	path := writeTemp(t, "2 6 2\n0 0\n1 0\n0 1\n10 10\n10 11\n11 10\n")
	db, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 6, db.Size())
	require.Equal(t, 2, db.Dim())

	assert.InDelta(t, 0.0, db.Distance(0, 0), 1e-9)
	assert.InDelta(t, 1.0, db.Distance(0, 1), 1e-9)
	assert.InDelta(t, 1.0, db.Distance(0, 2), 1e-9)
	assert.InDelta(t, db.Distance(0, 1), db.Distance(1, 0), 1e-9)
}

func TestLoadVectorHeaderless(t *testing.T) {
	path := writeTemp(t, "0.5 0\n1.5 0\n0.5 1\n")
	db, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 3, db.Size())
	require.Equal(t, 2, db.Dim())
	assert.InDelta(t, 1.0, db.Distance(0, 1), 1e-9)
}

func TestLoadStringHeadered(t *testing.T) {
	path := writeTemp(t, "4 0\nabc\nabd\nxyz\nabcd\n")
	db, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 4, db.Size())
	assert.InDelta(t, 1.0, db.Distance(0, 1), 1e-9) // abc -> abd
	assert.InDelta(t, 1.0, db.Distance(0, 3), 1e-9) // abc -> abcd
	assert.True(t, db.Distance(0, 2) > 1)
}

func TestLoadStringHeaderless(t *testing.T) {
	path := writeTemp(t, "abc\nabd\n")
	db, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 2, db.Size())
	assert.InDelta(t, 1.0, db.Distance(0, 1), 1e-9)
}

func TestDistanceIdentityAndSymmetry(t *testing.T) {
	path := writeTemp(t, "2 3 1\n0 0\n3 4\n1 1\n")
	db, err := Load(path)
	require.NoError(t, err)
	for i := ObjId(0); i < ObjId(db.Size()); i++ {
		assert.InDelta(t, 0.0, db.Distance(i, i), 1e-9)
	}
	assert.InDelta(t, db.Distance(0, 1), db.Distance(1, 0), 1e-9)
}

func TestL1L2LInfFormulas(t *testing.T) {
	mk := func(p int) DB {
		path := writeTemp(t, "2 2 "+itoa(p)+"\n0 0\n3 4\n")
		db, err := Load(path)
		require.NoError(t, err)
		return db
	}
	assert.InDelta(t, 7.0, mk(1).Distance(0, 1), 1e-9)
	assert.InDelta(t, 5.0, mk(2).Distance(0, 1), 1e-9)
	assert.InDelta(t, 4.0, mk(9).Distance(0, 1), 1e-9) // p not in {1,2,5} -> LInf
}

func TestL5Exponent(t *testing.T) {
	path := writeTemp(t, "1 2 5\n0\n2\n")
	db, err := Load(path)
	require.NoError(t, err)
	// |0-2|^5 = 32, 32^(1/5) = 2
	assert.InDelta(t, 2.0, db.Distance(0, 1), 1e-9)
}

func TestSingleObjectDataset(t *testing.T) {
	path := writeTemp(t, "2 1 2\n5 5\n")
	db, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 1, db.Size())
	assert.InDelta(t, 0.0, db.Distance(0, 0), 1e-9)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
