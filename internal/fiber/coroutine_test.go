package fiber

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func Test_Coroutine_MarkedAsDone(t *testing.T) {
	c := newCoroutine(func() error {
		return nil
	})

	c.execute()

	require.True(t, c.Finished())
}

func Test_Coroutine_MarkedAsBlocked(t *testing.T) {
	var c *coroutine
	c = newCoroutine(func() error {
		c.yield()

		require.FailNow(t, "should not reach this")

		return nil
	})

	c.execute()

	require.True(t, c.Blocked())
	require.False(t, c.Finished())

	c.exit()
}

func Test_Coroutine_Continue(t *testing.T) {
	var c *coroutine
	c = newCoroutine(func() error {
		c.yield()

		return nil
	})

	c.execute()

	require.True(t, c.Blocked())
	require.False(t, c.Finished())

	c.execute()

	require.False(t, c.Blocked())
	require.True(t, c.Finished())
}

func Test_Coroutine_Continue_WhenFinished(t *testing.T) {
	c := newCoroutine(func() error {
		return nil
	})

	c.execute()
	require.True(t, c.Finished())

	c.execute()
	require.True(t, c.Finished())
}

func Test_Coroutine_Exit(t *testing.T) {
	var c *coroutine
	c = newCoroutine(func() error {
		c.yield()

		require.FailNow(t, "should not reach this")

		return nil
	})

	c.execute()
	c.exit()

	require.True(t, c.Finished())
	require.NoError(t, c.Error())
}

func Test_Coroutine_Error(t *testing.T) {
	c := newCoroutine(func() error {
		return errors.New("test error")
	})

	c.execute()

	require.True(t, c.Finished())
	require.EqualError(t, c.Error(), "test error")
}

func Test_Coroutine_Panic(t *testing.T) {
	c := newCoroutine(func() error {
		panic("something went wrong")
	})

	c.execute()

	require.True(t, c.Finished())

	var perr *PanicError
	require.ErrorAs(t, c.Error(), &perr)
	require.Equal(t, "flow panicked: something went wrong", perr.Message)
	require.NotEmpty(t, perr.Stack)
}

func Test_Coroutine_Interrupt(t *testing.T) {
	var c *coroutine
	reached := false

	c = newCoroutine(func() error {
		c.interrupt()
		c.yield()

		reached = true

		return nil
	})

	c.execute()

	require.True(t, c.Finished())
	require.False(t, reached)
	require.NoError(t, c.Error())
}
